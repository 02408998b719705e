package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/starford/nudge/internal"
	"github.com/starford/nudge/internal/apperr"
	"github.com/starford/nudge/internal/delivery"
	"github.com/starford/nudge/internal/models"
	"github.com/starford/nudge/internal/scheduler"
	"github.com/starford/nudge/internal/storage"
)

// withScheduler opens the store for a one-shot command. Nothing is armed
// here; a running daemon picks changes up through its store watcher.
func withScheduler(cmd *cli.Command, fn func(*scheduler.Scheduler) error, opts ...scheduler.Option) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := internal.NewLogger(cfg, os.Stderr)
	sched, closeFlags, err := internal.OpenScheduler(cfg, logger, delivery.Nop{}, opts...)
	if err != nil {
		return err
	}
	defer closeFlags()
	return fn(sched)
}

func printReminders(w io.Writer, reminders []models.Reminder) error {
	if len(reminders) == 0 {
		_, err := fmt.Fprintln(w, "no reminders")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tTRIGGER\tCREATED")
	for _, r := range reminders {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.Title, r.Trigger.Describe(), r.CreatedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func printReminder(w io.Writer, r models.Reminder) {
	fmt.Fprintf(w, "%s  %s\n  %s\n", r.ID, r.Describe(), r.Body)
}

// reportSaved prints r and turns a delivery-only failure into a warning.
func reportSaved(w io.Writer, r models.Reminder, err error) error {
	if err != nil && (r.ID == "" || !errors.Is(err, apperr.ErrDelivery) || errors.Is(err, apperr.ErrPersistenceWrite)) {
		return err
	}
	printReminder(w, r)
	if err != nil {
		fmt.Fprintf(w, "warning: %v\n", err)
	}
	return nil
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List active reminders, newest first",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "strict",
				Usage: "Fail on an unreadable store instead of treating it as empty",
			},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			if cmd.Bool("strict") {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				store, err := storage.NewFS(cfg.Store.Path, internal.NewLogger(cfg, os.Stderr))
				if err != nil {
					return err
				}
				if _, err := store.Load(); err != nil {
					return cli.Exit(err.Error(), 2)
				}
			}
			return withScheduler(cmd, func(s *scheduler.Scheduler) error {
				reminders, err := s.RefreshErr()
				if err != nil {
					slog.Warn("list: expired reminders could not be saved", slog.String("error", err.Error()))
				}
				return printReminders(cmd.Root().Writer, reminders)
			})
		},
	}
}

func addCommand() *cli.Command {
	return &cli.Command{
		Name:  "add",
		Usage: "Add a reminder",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Required: true},
			&cli.StringFlag{Name: "body", Aliases: []string{"b"}, Required: true},
			&cli.DurationFlag{Name: "interval", Aliases: []string{"i"}, Usage: "Fire after this duration, e.g. 90m"},
			&cli.BoolFlag{Name: "repeats", Usage: "Repeat the interval forever"},
			&cli.StringFlag{Name: "at", Usage: "Fire once at this RFC3339 time"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			trigger, err := triggerFromFlags(cmd.Duration("interval"), cmd.Bool("repeats"), cmd.String("at"))
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			return withScheduler(cmd, func(s *scheduler.Scheduler) error {
				r, err := s.AddReminder(ctx, cmd.String("title"), cmd.String("body"), trigger)
				return reportSaved(cmd.Root().Writer, r, err)
			})
		},
	}
}

// triggerFromFlags requires exactly one of interval and at.
func triggerFromFlags(interval time.Duration, repeats bool, at string) (models.Trigger, error) {
	switch {
	case interval != 0 && at != "":
		return models.Trigger{}, errors.New("--interval and --at are mutually exclusive")
	case at != "":
		if repeats {
			return models.Trigger{}, errors.New("--repeats only applies to --interval")
		}
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return models.Trigger{}, fmt.Errorf("--at: %w", err)
		}
		return models.At(t), nil
	case interval != 0:
		return models.AfterInterval(interval, repeats), nil
	default:
		return models.Trigger{}, errors.New("one of --interval or --at is required")
	}
}

func reactivateCommand() *cli.Command {
	return &cli.Command{
		Name:      "reactivate",
		Usage:     "Restart a reminder's trigger as if it was just created",
		ArgsUsage: "ID",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id := cmd.Args().First()
			if id == "" {
				return cli.Exit("reactivate: missing ID", 2)
			}
			return withScheduler(cmd, func(s *scheduler.Scheduler) error {
				r, err := s.Reactivate(ctx, id)
				if errors.Is(err, apperr.ErrNotFound) {
					return cli.Exit(err.Error(), 1)
				}
				return reportSaved(cmd.Root().Writer, r, err)
			})
		},
	}
}

func removeCommand() *cli.Command {
	return &cli.Command{
		Name:      "remove",
		Aliases:   []string{"rm"},
		Usage:     "Delete a reminder",
		ArgsUsage: "ID",
		Action: func(_ context.Context, cmd *cli.Command) error {
			id := cmd.Args().First()
			if id == "" {
				return cli.Exit("remove: missing ID", 2)
			}
			return withScheduler(cmd, func(s *scheduler.Scheduler) error {
				return s.Remove(id)
			})
		},
	}
}

func resetCommand() *cli.Command {
	return &cli.Command{
		Name:  "reset",
		Usage: "Erase every reminder and the first-launch flag",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "yes", Usage: "Confirm the reset"},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			if !cmd.Bool("yes") {
				return cli.Exit("reset: refusing without --yes", 2)
			}
			return withScheduler(cmd, func(s *scheduler.Scheduler) error {
				s.HardReset()
				_, err := fmt.Fprintln(cmd.Root().Writer, "all reminders erased")
				return err
			}, scheduler.WithExit(func(int) {}))
		},
	}
}
