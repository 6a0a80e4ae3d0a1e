package badge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/railtrans/expo/internal/domain/registrant"
	"github.com/skip2/go-qrcode"
)

var ErrNoTicketCode = errors.New("registrant has no ticket code")

// Payload is what the QR encodes. Scanners post ticket_code to /api/tickets/validate.
type Payload struct {
	TicketCode string `json:"ticket_code"`
	Role       string `json:"role"`
	ID         string `json:"id"`
}

type Badge struct {
	EventName      string
	EventDate      string
	Venue          string
	Name           string
	Company        string
	Role           string
	TicketCategory string
	TicketCode     string
	ID             string
	// PrimaryColor is a #rrggbb hex; empty falls back to the expo red.
	PrimaryColor string
}

func FromRegistrant(r registrant.Registrant, eventName, eventDate, venue, color string) Badge {
	return Badge{
		EventName:      eventName,
		EventDate:      eventDate,
		Venue:          venue,
		Name:           r.Name,
		Company:        r.Company,
		Role:           string(r.Role),
		TicketCategory: r.TicketCategory,
		TicketCode:     r.TicketCode,
		ID:             r.ID,
		PrimaryColor:   color,
	}
}

func (b Badge) Payload() Payload {
	return Payload{TicketCode: b.TicketCode, Role: b.Role, ID: b.ID}
}

// QR returns a PNG of the badge payload.
func (b Badge) QR(size int) ([]byte, error) {
	raw, err := json.Marshal(b.Payload())
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(string(raw), qrcode.Medium, size)
}

// Render lays the badge out on an A6 portrait page and returns the PDF bytes.
func Render(b Badge) ([]byte, error) {
	if strings.TrimSpace(b.TicketCode) == "" {
		return nil, ErrNoTicketCode
	}

	png, err := b.QR(512)
	if err != nil {
		return nil, fmt.Errorf("qr: %w", err)
	}

	pdf := fpdf.New("P", "mm", "A6", "")
	pdf.SetTitle(b.TicketCode, true)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetMargins(8, 8, 8)
	pdf.AddPage()

	pageW, _ := pdf.GetPageSize()
	red, green, blue := hexColor(b.PrimaryColor)

	// header band
	pdf.SetFillColor(red, green, blue)
	pdf.Rect(0, 0, pageW, 22, "F")
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Helvetica", "B", 14)
	pdf.SetXY(8, 5)
	pdf.CellFormat(pageW-16, 7, tr(pdf, orDefault(b.EventName, "RailTrans Expo")), "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 8)
	pdf.SetX(8)
	pdf.CellFormat(pageW-16, 5, tr(pdf, strings.TrimSpace(b.EventDate+"  "+b.Venue)), "", 1, "C", false, 0, "")

	pdf.SetTextColor(20, 20, 20)
	pdf.SetY(28)
	pdf.SetFont("Helvetica", "B", 16)
	pdf.MultiCell(pageW-16, 7, tr(pdf, b.Name), "", "C", false)

	if b.Company != "" {
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(pageW-16, 5, tr(pdf, b.Company), "", "C", false)
	}

	opts := fpdf.ImageOptions{ImageType: "PNG", ReadDpi: false}
	pdf.RegisterImageOptionsReader("qr", opts, bytes.NewReader(png))
	qrSize := 48.0
	pdf.ImageOptions("qr", (pageW-qrSize)/2, 52, qrSize, qrSize, false, opts, 0, "")

	pdf.SetY(102)
	pdf.SetFont("Courier", "B", 12)
	pdf.CellFormat(pageW-16, 6, b.TicketCode, "", 1, "C", false, 0, "")

	// role strip at the bottom
	_, pageH := pdf.GetPageSize()
	pdf.SetFillColor(red, green, blue)
	pdf.Rect(0, pageH-20, pageW, 20, "F")
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Helvetica", "B", 14)
	pdf.SetXY(8, pageH-17)
	pdf.CellFormat(pageW-16, 7, strings.ToUpper(orDefault(b.Role, "visitor")), "", 1, "C", false, 0, "")
	if b.TicketCategory != "" {
		pdf.SetFont("Helvetica", "", 9)
		pdf.SetX(8)
		pdf.CellFormat(pageW-16, 5, tr(pdf, b.TicketCategory), "", 1, "C", false, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render badge: %w", err)
	}
	return buf.Bytes(), nil
}

// tr maps UTF-8 into the core fonts' cp1252 so names with accents survive.
func tr(pdf *fpdf.Fpdf, s string) string {
	return pdf.UnicodeTranslatorFromDescriptor("")(s)
}

func orDefault(s, d string) string {
	if strings.TrimSpace(s) == "" {
		return d
	}
	return s
}

func hexColor(s string) (int, int, int) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return 200, 16, 46
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 200, 16, 46
	}
	return int(v >> 16 & 0xff), int(v >> 8 & 0xff), int(v & 0xff)
}
