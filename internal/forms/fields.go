// Package forms evaluates registration form configs against a value bag:
// field visibility, phone normalization and the gated submit sequence.
package forms

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/railtrans/expo/internal/domain/regconfig"
)

const DefaultDialCode = "91"

const nationalLen = 10

var phoneName = regexp.MustCompile(`(?i)phone|mobile|contact|msisdn|tel`)

// Visible reports whether f is shown for the current values.
func Visible(f regconfig.Field, values map[string]any) bool {
	if f.Visible != nil && !*f.Visible {
		return false
	}
	return conditionsHold(f.ShowIf, values) && conditionsHold(f.VisibleIf, values)
}

func conditionsHold(cond map[string]any, values map[string]any) bool {
	for k, want := range cond {
		if Scalar(values[k]) != Scalar(want) {
			return false
		}
	}
	return true
}

// Scalar renders a JSON scalar for comparison. Composite values never match.
func Scalar(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case map[string]any, []any:
		return fmt.Sprintf("\x00%p", t)
	default:
		return fmt.Sprint(t)
	}
}

func IsPhoneField(f regconfig.Field) bool {
	switch strings.ToLower(f.Type) {
	case "phone", "tel":
		return true
	}
	return f.Meta.IsPhone || phoneName.MatchString(f.Name)
}

func IsOTPEmailField(f regconfig.Field) bool {
	return f.Meta.UseOTP && strings.EqualFold(f.Type, "email")
}

type Phone struct {
	Country  string `json:"country"`
	National string `json:"national"`
	Full     string `json:"full"`
}

// NormalizePhone splits raw input into a dial code and a national number of at
// most ten digits. A leading '+' with more than ten digits carries its own dial code.
func NormalizePhone(raw, defaultDial string) Phone {
	dial := digitsOnly(defaultDial)
	if dial == "" {
		dial = DefaultDialCode
	}

	trimmed := strings.TrimSpace(raw)
	digits := digitsOnly(trimmed)

	switch {
	case strings.HasPrefix(trimmed, "+") && len(digits) > nationalLen:
		dial = digits[:len(digits)-nationalLen]
		digits = digits[len(digits)-nationalLen:]
	case len(digits) > nationalLen && strings.HasPrefix(digits, dial):
		digits = digits[len(dial):]
	case len(digits) == nationalLen+1 && digits[0] == '0':
		digits = digits[1:]
	}

	if len(digits) > nationalLen {
		digits = digits[:nationalLen]
	}

	p := Phone{Country: dial, National: digits}
	if digits != "" {
		p.Full = "+" + dial + digits
	}
	return p
}

// ApplyPhone writes the normalized number under field, field_country and field_national.
func ApplyPhone(values map[string]any, field, raw, defaultDial string) Phone {
	p := NormalizePhone(raw, defaultDial)
	values[field] = p.Full
	values[field+"_country"] = p.Country
	values[field+"_national"] = p.National
	return p
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// nationalOf prefers the stored national part and falls back to re-normalizing the field value.
func nationalOf(values map[string]any, field, defaultDial string) string {
	if s, ok := values[field+"_national"].(string); ok {
		return s
	}
	return NormalizePhone(Scalar(values[field]), defaultDial).National
}
