// Package notify sends run-completion notifications.
package notify

import (
	"fmt"

	"github.com/yamakatsunamamugi/sheetflow/internal/domain"
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Notification represents a notification to be sent
type Notification struct {
	Title    string
	Message  string
	Type     NotificationType
	RunID    string // Optional run reference
	SheetRef string // Optional sheet reference
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(n Notification) error
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers
func (m *MultiNotifier) Send(n Notification) error {
	var lastErr error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(n Notification) error { return nil }

// ForRun builds the completion notification for a finished run.
func ForRun(result *domain.RunResult) Notification {
	n := Notification{
		RunID:    result.ID,
		SheetRef: result.SheetRef,
		Message: fmt.Sprintf("%d processed, %d succeeded, %d skipped",
			result.Processed, result.Succeeded, result.Skipped),
	}

	switch {
	case !result.Success:
		n.Type = NotifyError
		n.Title = "Sheet run aborted"
	case result.Skipped > 0:
		n.Type = NotifyWarning
		n.Title = "Sheet run finished with skipped cells"
	default:
		n.Type = NotifySuccess
		n.Title = "Sheet run finished"
	}
	return n
}
