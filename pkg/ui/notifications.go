package ui

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// NotificationSender delivers a desktop notification
type NotificationSender interface {
	Send(title, message string) error
}

// LinuxNotificationSender sends notifications on Linux using notify-send
type LinuxNotificationSender struct{}

func (l *LinuxNotificationSender) Send(title, message string) error {
	return exec.Command("notify-send", title, message).Run()
}

// MacOSNotificationSender sends notifications on macOS using osascript
type MacOSNotificationSender struct{}

func (m *MacOSNotificationSender) Send(title, message string) error {
	script := fmt.Sprintf(`display notification %q with title %q`, message, title)
	return exec.Command("osascript", "-e", script).Run()
}

// DefaultSender returns the sender for the current OS, or nil
func DefaultSender() NotificationSender {
	switch runtime.GOOS {
	case "linux":
		return &LinuxNotificationSender{}
	case "darwin":
		return &MacOSNotificationSender{}
	}
	return nil
}

// Notifier wraps a Reporter and raises a desktop notification when a run
// ends. Send errors are ignored.
type Notifier struct {
	Reporter
	sender NotificationSender
}

// WithNotifications decorates r. A nil sender disables notifications.
func WithNotifications(r Reporter, sender NotificationSender) *Notifier {
	if r == nil {
		r = Nop{}
	}
	return &Notifier{Reporter: r, sender: sender}
}

func (n *Notifier) Result(subject string, counts map[string]int, snapshot string, err error) {
	n.Reporter.Result(subject, counts, snapshot, err)
	if n.sender == nil {
		return
	}
	title, message := notification(subject, counts, snapshot, err)
	_ = n.sender.Send(title, message)
}

// notification builds the title and body for a finished run
func notification(subject string, counts map[string]int, snapshot string, err error) (string, string) {
	if err != nil {
		return "snsgrab failed", fmt.Sprintf("%s: %v", subject, err)
	}
	parts := []string{fmt.Sprintf("%d items", counts["succeeded"])}
	failed := counts["fetch_failed"] + counts["download_failed"] + counts["video_download_failed"]
	if failed > 0 {
		parts = append(parts, fmt.Sprintf("%d need resume", failed))
	}
	if snapshot != "" {
		parts = append(parts, "snapshot "+snapshot)
	}
	return "snsgrab finished " + subject, strings.Join(parts, ", ")
}
