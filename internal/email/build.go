package email

import (
	"bytes"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/railtrans/expo/internal/domain/registrant"
	"github.com/railtrans/expo/internal/notifications"
)

type Kind string

const (
	KindAcknowledgement Kind = "acknowledgement"
	KindUpgrade         Kind = "upgrade"
	KindStatus          Kind = "status"
)

var ErrNoRecipient = errors.New("email model has no recipient")

// Model is everything a transactional template needs. URLs may be relative;
// Build rewrites them against FrontendBase.
type Model struct {
	Kind           Kind
	ID             string
	Entity         string
	Name           string
	Email          string
	Company        string
	TicketCategory string
	TicketCode     string
	Status         string
	BannerURL      string
	BadgeURL       string
	DownloadURL    string
	UpgradeURL     string
	FrontendBase   string
	Details        Details
	BadgePDF       []byte
}

// ModelFor fills a Model from a stored registrant with the standard link layout.
func ModelFor(kind Kind, r registrant.Registrant, base string, details Details) Model {
	m := Model{
		Kind:           kind,
		ID:             r.ID,
		Entity:         string(r.Role),
		Name:           r.Name,
		Email:          r.Email,
		Company:        r.Company,
		TicketCategory: r.TicketCategory,
		TicketCode:     r.TicketCode,
		Status:         string(r.Status),
		FrontendBase:   base,
		Details:        details,
		BannerURL:      details.BannerURL,
		DownloadURL:    "/api/" + r.Role.Plural() + "/" + r.ID + "/badge.pdf",
	}
	m.BadgeURL = m.DownloadURL
	if r.Role == registrant.RoleVisitor {
		m.UpgradeURL = "/ticket-upgrade?ticket=" + r.TicketCode
	}
	return m
}

type view struct {
	Model
	Title       string
	Intro       string
	RoleLabel   string
	LogoURL     string
	Color       string
	ShowTicket  bool
	ShowUpgrade bool
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Build renders the subject, text and HTML bodies for m. It does no I/O.
// Only the PDF badge is attached; images stay as links.
func Build(m Model) (notifications.Message, error) {
	if strings.TrimSpace(m.Email) == "" {
		return notifications.Message{}, ErrNoRecipient
	}

	base := strings.TrimRight(m.FrontendBase, "/")
	m.BannerURL = Absolute(base, m.BannerURL)
	m.BadgeURL = Absolute(base, m.BadgeURL)
	m.DownloadURL = Absolute(base, m.DownloadURL)
	m.UpgradeURL = Absolute(base, m.UpgradeURL)

	event := m.Details.EventName
	if event == "" {
		event = "RailTrans Expo"
	}
	m.Details.EventName = event

	v := view{
		Model:       m,
		RoleLabel:   titleCase(m.Entity),
		LogoURL:     Absolute(base, m.Details.LogoURL),
		Color:       m.Details.PrimaryColor,
		ShowTicket:  m.TicketCode != "",
		ShowUpgrade: m.UpgradeURL != "" && m.Kind != KindStatus,
	}
	if v.Color == "" {
		v.Color = "#c8102e"
	}

	var subject string
	switch m.Kind {
	case KindUpgrade:
		subject = fmt.Sprintf("Your %s ticket has been upgraded", event)
		v.Title = "Ticket upgraded"
		v.Intro = fmt.Sprintf("Your ticket is now %s.", orDefault(m.TicketCategory, "updated"))
	case KindStatus:
		subject = fmt.Sprintf("Your %s registration is %s", event, m.Status)
		v.Title = "Registration " + m.Status
		v.Intro = statusIntro(m.Status)
		v.ShowTicket = v.ShowTicket && m.Status == string(registrant.StatusApproved)
	default:
		subject = fmt.Sprintf("Registration confirmed: %s", event)
		v.Title = "Thank you for registering"
		v.Intro = fmt.Sprintf("We have received your registration as a %s.", strings.ToLower(v.RoleLabel))
	}

	var text, html bytes.Buffer
	if err := textTmpl.Execute(&text, v); err != nil {
		return notifications.Message{}, fmt.Errorf("render text: %w", err)
	}
	if err := htmlTmpl.Execute(&html, v); err != nil {
		return notifications.Message{}, fmt.Errorf("render html: %w", err)
	}

	msg := notifications.Message{
		To:      []string{m.Email},
		Subject: subject,
		Text:    text.String(),
		HTML:    html.String(),
	}

	if len(m.BadgePDF) > 0 && v.ShowTicket {
		msg.Attachments = []notifications.Attachment{{
			Filename:    badgeFilename(m),
			ContentType: "application/pdf",
			Content:     m.BadgePDF,
		}}
	}

	return msg, nil
}

func badgeFilename(m Model) string {
	if m.TicketCode != "" {
		return "badge-" + m.TicketCode + ".pdf"
	}
	return "badge.pdf"
}

func statusIntro(status string) string {
	switch registrant.Status(status) {
	case registrant.StatusApproved:
		return "Your registration has been approved. Your badge is attached."
	case registrant.StatusCancelled:
		return "Your registration has been cancelled. Reply to this email if you think this is a mistake."
	default:
		return "Your registration status has changed."
	}
}

func orDefault(s, d string) string {
	if s == "" {
		return d
	}
	return s
}

type OTPModel struct {
	To      string
	Code    string
	Role    string
	TTL     time.Duration
	Details Details
}

func BuildOTP(m OTPModel) (notifications.Message, error) {
	if strings.TrimSpace(m.To) == "" {
		return notifications.Message{}, ErrNoRecipient
	}

	event := orDefault(m.Details.EventName, "RailTrans Expo")
	minutes := int(m.TTL.Minutes())
	if minutes <= 0 {
		minutes = 10
	}

	data := struct {
		Event   string
		Code    string
		Role    string
		Minutes int
	}{event, m.Code, titleCase(m.Role), minutes}

	var text, html bytes.Buffer
	if err := otpTextTmpl.Execute(&text, data); err != nil {
		return notifications.Message{}, err
	}
	if err := otpHTMLTmpl.Execute(&html, data); err != nil {
		return notifications.Message{}, err
	}

	return notifications.Message{
		To:      []string{m.To},
		Subject: fmt.Sprintf("%s verification code: %s", event, m.Code),
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}

var textTmpl = texttemplate.Must(texttemplate.New("text").Parse(`Hello {{.Name}},

{{.Intro}}

Event: {{.Details.EventName}}
{{- if .Details.Date}}
Date: {{.Details.Date}}{{if .Details.Time}} {{.Details.Time}}{{end}}
{{- end}}
{{- if .Details.Venue}}
Venue: {{.Details.Venue}}
{{- end}}
{{- if .Company}}
Company: {{.Company}}
{{- end}}
{{- if .TicketCategory}}
Ticket: {{.TicketCategory}}
{{- end}}
{{- if .ShowTicket}}
Ticket code: {{.TicketCode}}
Download your badge: {{.DownloadURL}}
{{- end}}
{{- if .ShowUpgrade}}
Upgrade your ticket: {{.UpgradeURL}}
{{- end}}

See you at {{.Details.EventName}}.
`))

var htmlTmpl = htmltemplate.Must(htmltemplate.New("html").Parse(`<!doctype html>
<html>
<body style="font-family:Arial,sans-serif;background:#f5f5f5;margin:0;padding:24px">
<table width="100%" cellpadding="0" cellspacing="0" style="max-width:600px;margin:0 auto;background:#ffffff">
{{- if .LogoURL}}
<tr><td style="padding:16px"><img src="{{.LogoURL}}" alt="{{.Details.EventName}}" height="48"></td></tr>
{{- end}}
{{- if .BannerURL}}
<tr><td><img src="{{.BannerURL}}" alt="" width="600" style="display:block;width:100%"></td></tr>
{{- end}}
<tr><td style="padding:24px">
<h2 style="color:{{.Color}};margin-top:0">{{.Title}}</h2>
<p>Hello {{.Name}},</p>
<p>{{.Intro}}</p>
<table cellpadding="4">
<tr><td><b>Event</b></td><td>{{.Details.EventName}}</td></tr>
{{- if .Details.Date}}<tr><td><b>Date</b></td><td>{{.Details.Date}} {{.Details.Time}}</td></tr>{{end}}
{{- if .Details.Venue}}<tr><td><b>Venue</b></td><td>{{.Details.Venue}}</td></tr>{{end}}
{{- if .RoleLabel}}<tr><td><b>Role</b></td><td>{{.RoleLabel}}</td></tr>{{end}}
{{- if .Company}}<tr><td><b>Company</b></td><td>{{.Company}}</td></tr>{{end}}
{{- if .TicketCategory}}<tr><td><b>Ticket</b></td><td>{{.TicketCategory}}</td></tr>{{end}}
{{- if .ShowTicket}}<tr><td><b>Ticket code</b></td><td>{{.TicketCode}}</td></tr>{{end}}
</table>
{{- if .ShowTicket}}
<p><a href="{{.DownloadURL}}" style="background:{{.Color}};color:#fff;padding:10px 16px;text-decoration:none">Download badge</a></p>
{{- end}}
{{- if .ShowUpgrade}}
<p><a href="{{.UpgradeURL}}">Upgrade your ticket</a></p>
{{- end}}
{{- if .Details.Tagline}}
<p style="color:#666">{{.Details.Tagline}}</p>
{{- end}}
</td></tr>
</table>
</body>
</html>
`))

var otpTextTmpl = texttemplate.Must(texttemplate.New("otp_text").Parse(`Your {{.Event}} {{.Role}} registration code is {{.Code}}.

It expires in {{.Minutes}} minutes. If you did not request it you can ignore this email.
`))

var otpHTMLTmpl = htmltemplate.Must(htmltemplate.New("otp_html").Parse(`<!doctype html>
<html><body style="font-family:Arial,sans-serif">
<p>Your {{.Event}} {{.Role}} registration code is</p>
<p style="font-size:28px;letter-spacing:6px"><b>{{.Code}}</b></p>
<p>It expires in {{.Minutes}} minutes. If you did not request it you can ignore this email.</p>
</body></html>
`))
