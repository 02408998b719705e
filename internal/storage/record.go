package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/starford/nudge/internal/apperr"
	"github.com/starford/nudge/internal/models"
)

const documentVersion = 1

// record is the on-disk layout of one reminder. Exactly one of
// IntervalSeconds and FiresAt is present.
type record struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Body            string     `json:"body"`
	TriggerKind     string     `json:"triggerKind"`
	IntervalSeconds *float64   `json:"intervalSeconds,omitempty"`
	Repeats         *bool      `json:"repeats,omitempty"`
	FiresAt         *time.Time `json:"firesAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

type document struct {
	Version   int      `json:"version"`
	Reminders []record `json:"reminders"`
}

func toRecord(r models.Reminder) record {
	rec := record{
		ID:          r.ID,
		Title:       r.Title,
		Body:        r.Body,
		TriggerKind: r.Trigger.Kind(),
		CreatedAt:   r.CreatedAt,
	}
	switch rec.TriggerKind {
	case models.TriggerKindInterval:
		secs := r.Trigger.Interval.Seconds
		repeats := r.Trigger.Interval.Repeats
		rec.IntervalSeconds = &secs
		rec.Repeats = &repeats
	case models.TriggerKindAbsolute:
		at := r.Trigger.Absolute.FiresAt
		rec.FiresAt = &at
	}
	return rec
}

func (rec record) reminder() (models.Reminder, error) {
	var tr models.Trigger
	switch rec.TriggerKind {
	case models.TriggerKindInterval:
		if rec.FiresAt != nil || rec.IntervalSeconds == nil {
			return models.Reminder{}, fmt.Errorf("%w: interval record %q must carry intervalSeconds only", apperr.ErrInvalidTrigger, rec.ID)
		}
		tr.Interval = &models.IntervalTrigger{
			Seconds: *rec.IntervalSeconds,
			Repeats: rec.Repeats != nil && *rec.Repeats,
		}
	case models.TriggerKindAbsolute:
		if rec.IntervalSeconds != nil || rec.FiresAt == nil {
			return models.Reminder{}, fmt.Errorf("%w: absolute record %q must carry firesAt only", apperr.ErrInvalidTrigger, rec.ID)
		}
		tr.Absolute = &models.AbsoluteTrigger{FiresAt: *rec.FiresAt}
	default:
		return models.Reminder{}, fmt.Errorf("%w: record %q has unknown trigger kind %q", apperr.ErrInvalidTrigger, rec.ID, rec.TriggerKind)
	}
	return models.NewReminder(rec.ID, rec.Title, rec.Body, tr, rec.CreatedAt)
}

func encode(reminders []models.Reminder) ([]byte, error) {
	doc := document{Version: documentVersion, Reminders: make([]record, 0, len(reminders))}
	for _, r := range reminders {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("storage: encode %q: %w", r.ID, err)
		}
		doc.Reminders = append(doc.Reminders, toRecord(r))
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("storage: encode: %w", err)
	}
	return append(data, '\n'), nil
}

// decode parses a stored document. A bare top-level array is accepted as
// the legacy layout. The returned error is non-nil when anything was
// dropped; reminders is nil only when the document itself is unusable.
func decode(data []byte) ([]models.Reminder, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return []models.Reminder{}, nil
	}

	var recs []record
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &recs); err != nil {
			return nil, fmt.Errorf("storage: decode legacy list: %w", err)
		}
	} else {
		var doc document
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("storage: decode: %w", err)
		}
		if doc.Version > documentVersion {
			return nil, fmt.Errorf("storage: unsupported document version %d", doc.Version)
		}
		recs = doc.Reminders
	}

	out := make([]models.Reminder, 0, len(recs))
	seen := make(map[string]struct{}, len(recs))
	var errs []error
	for _, rec := range recs {
		r, err := rec.reminder()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := seen[r.ID]; dup {
			errs = append(errs, fmt.Errorf("%w: duplicate id %q", apperr.ErrConflict, r.ID))
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	return out, errors.Join(errs...)
}

func checkUnique(reminders []models.Reminder) error {
	seen := make(map[string]struct{}, len(reminders))
	for _, r := range reminders {
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("%w: duplicate id %q", apperr.ErrConflict, r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	return nil
}
