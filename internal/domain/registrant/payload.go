package registrant

import (
	"fmt"
	"strconv"
	"strings"
)

// Keys the public forms use for the fixed columns; first match wins.
var (
	nameKeys    = []string{"name", "full_name", "fullName", "fullname"}
	emailKeys   = []string{"email", "email_address", "emailAddress"}
	mobileKeys  = []string{"mobile", "phone", "contact", "mobile_number", "phone_number"}
	companyKeys = []string{"company", "organization", "organisation", "company_name", "companyName"}
)

// Keys that are client-side bookkeeping and never persisted.
var transientKeys = map[string]struct{}{
	"otpVerified":   {},
	"termsAccepted": {},
	"ticket_code":   {},
	"id":            {},
}

// FromPayload maps a free-form form submission onto a CreateRequest.
// Anything that isn't a fixed column ends up in Data.
func FromPayload(role Role, payload map[string]any) CreateRequest {
	used := map[string]struct{}{}

	pick := func(keys []string) string {
		for _, k := range keys {
			if v, ok := payload[k]; ok {
				used[k] = struct{}{}
				if s := scalarString(v); s != "" {
					return s
				}
			}
		}
		return ""
	}

	req := CreateRequest{
		Role:    role,
		Name:    pick(nameKeys),
		Email:   pick(emailKeys),
		Mobile:  pick(mobileKeys),
		Company: pick(companyKeys),
	}

	req.TicketCategory = pick([]string{"ticket_category", "ticketCategory"})

	if s := pick([]string{"txId", "tx_id", "transaction_id"}); s != "" {
		req.TxID = &s
	}
	if s := pick([]string{"payment_proof_url", "paymentProofUrl"}); s != "" {
		req.PaymentProofURL = &s
	}

	req.TicketPrice = pickFloat(payload, used, "ticket_price")
	req.TicketGST = pickFloat(payload, used, "ticket_gst")
	req.TicketTotal = pickFloat(payload, used, "ticket_total")

	data := make(map[string]any, len(payload))
	for k, v := range payload {
		if _, ok := used[k]; ok {
			continue
		}
		if _, ok := transientKeys[k]; ok {
			continue
		}
		data[k] = v
	}
	req.Data = data

	return req
}

func pickFloat(payload map[string]any, used map[string]struct{}, key string) float64 {
	v, ok := payload[key]
	if !ok {
		return 0
	}
	used[key] = struct{}{}

	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err == nil {
			return f
		}
	}
	return 0
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

// Row flattens a registrant into the column map the admin tables render.
func (r Registrant) Row() map[string]any {
	row := make(map[string]any, len(r.Data)+16)
	for k, v := range r.Data {
		row[k] = v
	}

	row["id"] = r.ID
	row["name"] = r.Name
	row["email"] = r.Email
	row["mobile"] = r.Mobile
	row["company"] = r.Company
	row["ticket_category"] = r.TicketCategory
	row["ticket_code"] = r.TicketCode
	row["ticket_price"] = r.TicketPrice
	row["ticket_gst"] = r.TicketGST
	row["ticket_total"] = r.TicketTotal
	row["status"] = string(r.Status)
	row["added_by_admin"] = r.AddedByAdmin
	row["created_at"] = r.CreatedAt
	if r.TxID != nil {
		row["txId"] = *r.TxID
	}
	if r.PaymentProofURL != nil {
		row["payment_proof_url"] = *r.PaymentProofURL
	}
	if r.AdminCreatedAt != nil {
		row["admin_created_at"] = *r.AdminCreatedAt
	}

	return row
}
