package regconfig

import (
	"errors"
	"strings"
	"time"
)

var ErrNotFound = errors.New("registration config not found")

type Meta struct {
	IsPhone bool `json:"isPhone,omitempty"`
	UseOTP  bool `json:"useOtp,omitempty"`
}

type Field struct {
	Name      string         `json:"name" binding:"required,max=80"`
	Label     string         `json:"label" binding:"max=200"`
	Type      string         `json:"type" binding:"required,max=30"`
	Options   []string       `json:"options,omitempty"`
	Required  bool           `json:"required,omitempty"`
	Visible   *bool          `json:"visible,omitempty"`
	ShowIf    map[string]any `json:"showIf,omitempty"`
	VisibleIf map[string]any `json:"visibleIf,omitempty"`
	Meta      Meta           `json:"meta,omitempty"`
}

type EventDetails struct {
	Name    string `json:"name,omitempty"`
	Date    string `json:"date,omitempty"`
	Time    string `json:"time,omitempty"`
	Venue   string `json:"venue,omitempty"`
	Tagline string `json:"tagline,omitempty"`
}

func (e EventDetails) Empty() bool {
	return e.Name == "" && e.Date == "" && e.Venue == "" && e.Time == "" && e.Tagline == ""
}

type Branding struct {
	LogoURL      string `json:"logoUrl,omitempty"`
	BannerURL    string `json:"bannerUrl,omitempty"`
	PrimaryColor string `json:"primaryColor,omitempty"`
}

// Category is a ticket tier with its pre-GST price.
type Category struct {
	Name    string  `json:"name" binding:"required,max=60"`
	Price   float64 `json:"price" binding:"gte=0"`
	GSTRate float64 `json:"gstRate" binding:"gte=0,lte=1"`
}

type Config struct {
	Role         string       `json:"role"`
	Fields       []Field      `json:"fields" binding:"dive"`
	EventDetails EventDetails `json:"eventDetails"`
	Branding     Branding     `json:"branding"`
	Columns      []string     `json:"columns,omitempty"`
	Categories   []Category   `json:"categories,omitempty" binding:"dive"`
	TermsURL     string       `json:"termsUrl,omitempty"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

type UpsertRequest struct {
	Fields       []Field      `json:"fields" binding:"required,dive"`
	EventDetails EventDetails `json:"eventDetails"`
	Branding     Branding     `json:"branding"`
	Columns      []string     `json:"columns"`
	Categories   []Category   `json:"categories" binding:"dive"`
	TermsURL     string       `json:"termsUrl" binding:"omitempty,url"`
}

// RequiresOTP reports whether any email field on the form is OTP gated.
func (c Config) RequiresOTP() bool {
	for _, f := range c.Fields {
		if f.Meta.UseOTP && strings.EqualFold(f.Type, "email") {
			return true
		}
	}
	return false
}

func (c Config) Category(name string) (Category, bool) {
	for _, cat := range c.Categories {
		if strings.EqualFold(cat.Name, strings.TrimSpace(name)) {
			return cat, true
		}
	}
	return Category{}, false
}
