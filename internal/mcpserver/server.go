// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes nudge tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/nudge/internal/apperr"
	"github.com/starford/nudge/internal/models"
)

const formatURI = "nudge://reminder-format"

// Service is the scheduler surface the tools depend on.
type Service interface {
	Refresh() []models.Reminder
	Get(id string) (models.Reminder, error)
	AddReminder(ctx context.Context, title, body string, trigger models.Trigger) (models.Reminder, error)
	Reactivate(ctx context.Context, id string) (models.Reminder, error)
	Remove(id string) error
}

// Server wraps the MCP server with nudge tools.
type Server struct {
	mcp *server.MCPServer
	svc Service
}

// New creates a new MCP server with all nudge tools registered.
func New(svc Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Nudge",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_reminders",
		mcp.WithDescription("List live reminders, newest first. Expired absolute reminders are swept first."),
	), s.listReminders)

	s.mcp.AddTool(mcp.NewTool("add_reminder",
		mcp.WithDescription("Create a reminder. Give exactly one of interval or at. "+
			"Read the format via get_reminder_format or the "+formatURI+" resource."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Short title shown in the notification")),
		mcp.WithString("body", mcp.Required(), mcp.Description("Notification text")),
		mcp.WithString("interval", mcp.Description("Duration until it fires, e.g. 45m or 2h")),
		mcp.WithBoolean("repeats", mcp.Description("Repeat every interval (interval reminders only)")),
		mcp.WithString("at", mcp.Description("RFC 3339 time to fire at, e.g. 2026-10-17T09:00:00Z")),
	), s.addReminder)

	s.mcp.AddTool(mcp.NewTool("get_reminder",
		mcp.WithDescription("Read a single reminder by id."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Reminder id")),
	), s.getReminder)

	s.mcp.AddTool(mcp.NewTool("reactivate_reminder",
		mcp.WithDescription("Restart a reminder's trigger from now without changing its content."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Reminder id")),
	), s.reactivateReminder)

	s.mcp.AddTool(mcp.NewTool("delete_reminder",
		mcp.WithDescription("Disarm and delete a reminder. Unknown ids are ignored."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Reminder id")),
	), s.deleteReminder)

	s.mcp.AddTool(mcp.NewTool("get_reminder_format",
		mcp.WithDescription("Returns the reminder format: trigger kinds, lifecycle and stored record layout."),
	), s.getReminderFormat)

	s.mcp.AddResource(
		mcp.NewResource(formatURI, "Reminder Format",
			mcp.WithResourceDescription("How reminders are specified and stored."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

type reminderView struct {
	models.Reminder
	Description string `json:"description"`
	Warning     string `json:"warning,omitempty"`
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func (s *Server) listReminders(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rs := s.svc.Refresh()
	views := make([]reminderView, len(rs))
	for i, r := range rs {
		views[i] = reminderView{Reminder: r, Description: r.Describe()}
	}
	return jsonResult(views), nil
}

func (s *Server) addReminder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	body, err := req.RequireString("body")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	trigger, err := parseTrigger(req.GetString("interval", ""), req.GetBool("repeats", false), req.GetString("at", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	r, err := s.svc.AddReminder(ctx, title, body, trigger)
	return savedResult(r, err), nil
}

func (s *Server) getReminder(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	r, err := s.svc.Get(id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
	}
	return jsonResult(reminderView{Reminder: r, Description: r.Describe()}), nil
}

func (s *Server) reactivateReminder(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	r, err := s.svc.Reactivate(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
	}
	return savedResult(r, err), nil
}

func (s *Server) deleteReminder(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.Remove(id); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted: %s", id)), nil
}

func (s *Server) getReminderFormat(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(ReminderFormat), nil
}

func (s *Server) readFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      formatURI,
			MIMEType: "text/markdown",
			Text:     ReminderFormat,
		},
	}, nil
}

// parseTrigger builds a trigger from tool arguments; exactly one of interval
// and at must be given.
func parseTrigger(interval string, repeats bool, at string) (models.Trigger, error) {
	switch {
	case interval != "" && at != "":
		return models.Trigger{}, errors.New("give either interval or at, not both")
	case interval != "":
		d, err := time.ParseDuration(interval)
		if err != nil {
			return models.Trigger{}, fmt.Errorf("invalid interval %q: %w", interval, err)
		}
		return models.AfterInterval(d, repeats), nil
	case at != "":
		if repeats {
			return models.Trigger{}, errors.New("only interval reminders can repeat")
		}
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return models.Trigger{}, fmt.Errorf("invalid at %q: %w", at, err)
		}
		return models.At(t), nil
	}
	return models.Trigger{}, errors.New("one of interval or at is required")
}

// savedResult reports a create or reactivate. A delivery failure still
// returns the saved reminder, with a warning.
func savedResult(r models.Reminder, err error) *mcp.CallToolResult {
	view := reminderView{Reminder: r, Description: r.Describe()}
	switch {
	case err == nil:
		return jsonResult(view)
	case r.ID != "" && errors.Is(err, apperr.ErrDelivery) && !errors.Is(err, apperr.ErrPersistenceWrite):
		view.Warning = err.Error()
		return jsonResult(view)
	}
	return mcp.NewToolResultError(err.Error())
}
