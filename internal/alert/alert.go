// Package alert delivers operational notifications (PIN lockouts,
// collaborator outages, handler panics) to chat platforms.
package alert

import (
	"context"
	"errors"
	"time"
)

// Kind classifies an alert.
type Kind string

const (
	KindPINLockout          Kind = "pin_lockout"
	KindCollaboratorFailure Kind = "collaborator_failure"
	KindHandlerPanic        Kind = "handler_panic"
)

// Severity drives the sidebar colour on chat platforms.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Alert is one notification.
type Alert struct {
	Kind     Kind
	Severity Severity
	Title    string
	Body     string
	Fields   []Field
	Time     time.Time
}

// Field is a key-value pair rendered alongside the alert.
type Field struct {
	Name  string
	Value string
	Short bool // hint: render side-by-side with another field
}

// Notifier is implemented by each platform.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// Color returns the hex sidebar colour for a severity.
func Color(s Severity) string {
	switch s {
	case SeverityError:
		return "#d00000"
	case SeverityWarning:
		return "#daa038"
	default:
		return "#36a64f"
	}
}

// Multi fans an alert out to several notifiers. Every notifier is tried;
// failures are joined.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, a Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards alerts.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, Alert) error { return nil }
