package notify

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogNotifier writes alerts to the structured log. It is the channel of last
// resort when nothing else is configured.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier logs through the global logger.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: log.Logger}
}

// NewLogNotifierWithLogger logs through logger.
func NewLogNotifierWithLogger(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(_ context.Context, msg Message) error {
	names := make([]string, 0, len(msg.Attachments))
	for _, a := range msg.Attachments {
		names = append(names, a.Name)
	}
	ev := l.logger.Warn().
		Str("subject", msg.Subject).
		Strs("recipients", msg.Recipients).
		Strs("attachments", names)
	for k, v := range msg.Metadata {
		ev = ev.Str(k, v)
	}
	ev.Msg(msg.Body)
	return nil
}

func (l *LogNotifier) Name() string { return "log" }
