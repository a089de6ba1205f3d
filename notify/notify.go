// Package notify delivers best-effort alerts to an external sink. Delivery
// failures are logged and never block or fail the trading cycle.
package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// Level is the severity of an alert.
type Level string

const (
	Info     Level = "INFO"
	Warning  Level = "WARNING"
	Critical Level = "CRITICAL"
)

// Alert is one notification.
type Alert struct {
	Level   Level  `json:"level"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Notifier is the sink boundary.
type Notifier interface {
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the log; the default when no webhook is
// configured.
type LogNotifier struct {
	Log zerolog.Logger
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	n.Log.Info().
		Str("level", string(alert.Level)).
		Str("title", alert.Title).
		Msg(alert.Message)
	return nil
}
