package jobs

import (
	"encoding/json"
	"fmt"
	"strings"
)

func EncodePayload(t Type, payload any) (json.RawMessage, error) {
	if err := ValidatePayload(t, payload); err != nil {
		return nil, err
	}

	b, err := json.Marshal(payload)

	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
	}

	return json.RawMessage(b), nil
}

// DecodePayload unmarshals raw into the payload struct registered for t.
func DecodePayload(t Type, raw []byte) (any, error) {
	if !t.IsValid() {
		return nil, ErrInvalidJobType
	}
	if len(raw) == 0 {
		return nil, ErrInvalidJobPayload
	}

	var out any

	switch t {
	case TypeMailSend:
		var p MailPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
		}
		out = p
	case TypeRegistrantAcknowledge:
		var p AcknowledgePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
		}
		out = p
	case TypeTicketGenerate:
		var p TicketPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
		}
		out = p
	case TypeStatusNotify:
		var p StatusNotifyPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
		}
		out = p
	}

	if err := ValidatePayload(t, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ValidatePayload checks that payload is the struct t expects and carries its required ids.
func ValidatePayload(t Type, payload any) error {
	if !t.IsValid() {
		return ErrInvalidJobType
	}

	blank := func(s string) bool { return strings.TrimSpace(s) == "" }

	switch t {
	case TypeMailSend:
		p, ok := payload.(MailPayload)
		if !ok {
			return ErrPayloadTypeMismatch
		}
		if len(p.To) == 0 || blank(p.Subject) || (blank(p.Text) && blank(p.HTML)) {
			return ErrInvalidJobPayload
		}
	case TypeRegistrantAcknowledge:
		p, ok := payload.(AcknowledgePayload)
		if !ok {
			return ErrPayloadTypeMismatch
		}
		if blank(p.RegistrantID) || blank(p.Role) {
			return ErrInvalidJobPayload
		}
	case TypeTicketGenerate:
		p, ok := payload.(TicketPayload)
		if !ok {
			return ErrPayloadTypeMismatch
		}
		if blank(p.RegistrantID) || blank(p.Role) {
			return ErrInvalidJobPayload
		}
	case TypeStatusNotify:
		p, ok := payload.(StatusNotifyPayload)
		if !ok {
			return ErrPayloadTypeMismatch
		}
		if blank(p.RegistrantID) || blank(p.Role) || blank(p.Status) {
			return ErrInvalidJobPayload
		}
	}
	return nil
}
