// Package notify schedules trip-relative reminders and budget threshold
// alerts with exactly-once delivery per tag.
package notify

import "context"

type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// Request is the payload handed to the host platform's notification
// display facility. It is ephemeral: constructed, dispatched, discarded.
type Request struct {
	Title              string         `json:"title"`
	Body               string         `json:"body"`
	Icon               string         `json:"icon,omitempty"`
	Tag                string         `json:"tag"`
	RequireInteraction bool           `json:"require_interaction,omitempty"`
	Actions            []Action       `json:"actions,omitempty"`
	Data               map[string]any `json:"data,omitempty"`
}

// Notifier is the platform display facility. Failures are non-fatal:
// the notification is simply not shown, with no retry.
type Notifier interface {
	Notify(ctx context.Context, req Request) error
}

// ExpenseProvider reports the fraction of the trip budget spent so far
// (0.55 means 55%). It is an external collaborator.
type ExpenseProvider interface {
	SpentFraction(ctx context.Context) (float64, error)
}
