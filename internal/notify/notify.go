// Package notify delivers rendered alert reports over email, webhooks or the log.
package notify

import (
	"context"
	"errors"
	"fmt"
)

// Attachment is a binary file carried with a message.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// Message is a plain-text report plus optional attachments.
type Message struct {
	Subject     string
	Body        string
	Recipients  []string // extra recipients on top of a channel's defaults
	Attachments []Attachment
	Metadata    map[string]string
}

// Notifier sends a message over one channel.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
	Name() string
}

// Multi fans a message out to every channel and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Name() string {
	if len(m) == 1 {
		return m[0].Name()
	}
	name := "multi("
	for i, n := range m {
		if i > 0 {
			name += ","
		}
		name += n.Name()
	}
	return name + ")"
}
