package mcpserver

// ReminderFormat describes how reminders are specified and stored, for LLM
// consumers creating reminders through the tools.
const ReminderFormat = `# Nudge Reminder Format

A reminder says what to show (title, body) and when to show it (trigger).

## Triggers

Every reminder has exactly one trigger.

- **Interval**: fires a fixed duration after the reminder is created or
  reactivated. Pass ` + "`interval`" + ` as a Go duration (` + "`90s`, `45m`, `2h30m`" + `).
  Set ` + "`repeats: true`" + ` to fire again every interval. Repeating intervals
  must be at least one minute.
- **Absolute**: fires once at a calendar time. Pass ` + "`at`" + ` as RFC 3339
  (` + "`2026-10-17T09:00:00+02:00`" + `). Cannot repeat.

## Lifecycle

1. ` + "`add_reminder`" + ` creates it with a fresh id and arms delivery.
2. A one-shot reminder disappears after it fires.
3. An absolute reminder whose time has passed is swept on the next listing.
4. ` + "`reactivate_reminder`" + ` restarts the trigger from now without changing content.
5. ` + "`delete_reminder`" + ` disarms and deletes it. Unknown ids are ignored.

## Stored record

` + "```" + `json
{
  "id": "0b7c6f1e-...",
  "title": "Stretch",
  "body": "Stand up and stretch",
  "triggerKind": "interval",
  "intervalSeconds": 2700,
  "repeats": true,
  "createdAt": "2026-10-17T09:00:00Z"
}
` + "```" + `

Absolute records carry ` + "`firesAt`" + ` instead of ` + "`intervalSeconds`/`repeats`" + `.
`
