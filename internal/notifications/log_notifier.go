package notifications

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// LogNotifier writes messages to the log instead of mailing them. Used in dev and tests.
type LogNotifier struct {
	log *slog.Logger

	mu   sync.Mutex
	sent []Message
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Send(ctx context.Context, msg Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := uuid.NewString()

	n.mu.Lock()
	n.sent = append(n.sent, msg)
	n.mu.Unlock()

	n.log.InfoContext(ctx, "mail.logged",
		"message_id", id,
		"to", msg.To,
		"subject", msg.Subject,
		"attachments", len(msg.Attachments),
	)
	return id, nil
}

// Sent returns a copy of everything passed to Send so far.
func (n *LogNotifier) Sent() []Message {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]Message, len(n.sent))
	copy(out, n.sent)
	return out
}
