package jobs

import (
	"github.com/google/uuid"
	"github.com/railtrans/expo/internal/domain/job"
)

// Mail the registrant is waiting on goes first.
const (
	PriorityStatus  = 10
	PriorityAck     = 5
	PriorityDefault = 0
)

func newRequest(t Type, payload any, priority int, key string) (job.CreateRequest, error) {
	raw, err := EncodePayload(t, payload)
	if err != nil {
		return job.CreateRequest{}, err
	}
	return job.CreateRequest{
		Type:           string(t),
		Payload:        raw,
		MaxAttempts:    5,
		Priority:       priority,
		IdempotencyKey: &key,
	}, nil
}

// AcknowledgeRequest queues the confirmation email. The created reason is keyed per
// registrant so it is enqueued once; resends and upgrades get a fresh key.
func AcknowledgeRequest(p AcknowledgePayload) (job.CreateRequest, error) {
	key := string(TypeRegistrantAcknowledge) + ":" + p.RegistrantID + ":" + p.Reason
	if p.Reason != ReasonCreated {
		key += ":" + uuid.NewString()
	}
	return newRequest(TypeRegistrantAcknowledge, p, PriorityAck, key)
}

func TicketRequest(p TicketPayload) (job.CreateRequest, error) {
	key := string(TypeTicketGenerate) + ":" + p.RegistrantID + ":" + uuid.NewString()
	return newRequest(TypeTicketGenerate, p, PriorityDefault, key)
}

func StatusNotifyRequest(p StatusNotifyPayload) (job.CreateRequest, error) {
	key := string(TypeStatusNotify) + ":" + p.RegistrantID + ":" + p.Status + ":" + uuid.NewString()
	return newRequest(TypeStatusNotify, p, PriorityStatus, key)
}

func MailRequest(p MailPayload) (job.CreateRequest, error) {
	key := string(TypeMailSend) + ":" + uuid.NewString()
	return newRequest(TypeMailSend, p, PriorityDefault, key)
}
