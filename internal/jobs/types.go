package jobs

type Type string

const (
	TypeMailSend              Type = "mail.send"
	TypeRegistrantAcknowledge Type = "registrant.acknowledge"
	TypeTicketGenerate        Type = "ticket.generate"
	TypeStatusNotify          Type = "registrant.status_notify"
)

func (t Type) IsValid() bool {
	switch t {
	case TypeMailSend, TypeRegistrantAcknowledge, TypeTicketGenerate, TypeStatusNotify:
		return true
	default:
		return false
	}
}
