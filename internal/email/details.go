package email

import (
	"context"
	"log/slog"
	"strings"

	"github.com/railtrans/expo/internal/domain/regconfig"
)

// Details is the event and branding block every template renders.
type Details struct {
	EventName    string
	Date         string
	Time         string
	Venue        string
	Tagline      string
	LogoURL      string
	BannerURL    string
	PrimaryColor string
}

func (d Details) Empty() bool {
	return d == Details{}
}

// Merge fills the blanks in d from fallback.
func (d Details) Merge(fallback Details) Details {
	pick := func(a, b string) string {
		if strings.TrimSpace(a) != "" {
			return a
		}
		return b
	}
	return Details{
		EventName:    pick(d.EventName, fallback.EventName),
		Date:         pick(d.Date, fallback.Date),
		Time:         pick(d.Time, fallback.Time),
		Venue:        pick(d.Venue, fallback.Venue),
		Tagline:      pick(d.Tagline, fallback.Tagline),
		LogoURL:      pick(d.LogoURL, fallback.LogoURL),
		BannerURL:    pick(d.BannerURL, fallback.BannerURL),
		PrimaryColor: pick(d.PrimaryColor, fallback.PrimaryColor),
	}
}

func DetailsFromConfig(c regconfig.Config) Details {
	return Details{
		EventName:    c.EventDetails.Name,
		Date:         c.EventDetails.Date,
		Time:         c.EventDetails.Time,
		Venue:        c.EventDetails.Venue,
		Tagline:      c.EventDetails.Tagline,
		LogoURL:      c.Branding.LogoURL,
		BannerURL:    c.Branding.BannerURL,
		PrimaryColor: c.Branding.PrimaryColor,
	}
}

// DetailsSource is one candidate origin for event details.
type DetailsSource interface {
	Details(ctx context.Context, role string) (Details, error)
}

type ConfigGetter interface {
	Get(ctx context.Context, role string) (regconfig.Config, error)
}

// ConfigSource reads details from a role's registration config.
type ConfigSource struct {
	Configs ConfigGetter
}

func (s ConfigSource) Details(ctx context.Context, role string) (Details, error) {
	c, err := s.Configs.Get(ctx, role)
	if err != nil {
		return Details{}, err
	}
	return DetailsFromConfig(c), nil
}

// Static always answers with the same details, e.g. env-provided branding.
type Static Details

func (s Static) Details(context.Context, string) (Details, error) {
	return Details(s), nil
}

// Resolver probes sources in order. The first non-empty answer wins and
// any blanks are filled from later sources and finally the caller's fallback.
type Resolver struct {
	sources []DetailsSource
	log     *slog.Logger
}

func NewResolver(log *slog.Logger, sources ...DetailsSource) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{sources: sources, log: log}
}

func (r *Resolver) Resolve(ctx context.Context, role string, fallback Details) Details {
	var out Details

	for i, src := range r.sources {
		d, err := src.Details(ctx, role)
		if err != nil {
			r.log.DebugContext(ctx, "email.details_source_failed", "source", i, "role", role, "err", err)
			continue
		}
		out = out.Merge(d)
	}

	return out.Merge(fallback)
}
