package delivery

import "errors"

// Kinds of transactional mail tracked for at-most-once delivery.
const (
	KindAcknowledgement = "registrant.acknowledgement"
	KindStatus          = "registrant.status"
	KindMailer          = "mailer"
)

var (
	ErrAlreadySent = errors.New("delivery already sent")
	ErrInProgress  = errors.New("delivery already in progress")
)
