package notifications

import "context"

type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

type Message struct {
	To          []string
	Subject     string
	Text        string
	HTML        string
	Attachments []Attachment
}

// Notifier delivers one message and returns the provider's message id when it has one.
type Notifier interface {
	Send(ctx context.Context, msg Message) (string, error)
}
