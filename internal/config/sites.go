package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"gemfeed/internal"
)

// SitePrefs are the per-site import preferences shared by every backend.
type SitePrefs struct {
	MinimumCaratWeight decimal.Decimal
	MaximumCaratWeight decimal.Decimal
	MinimumPrice       decimal.Decimal
	MaximumPrice       decimal.Decimal
	MustBeCertified    bool
	VerifyCertImages   bool
	IncludeMined       bool
	IncludeLabGrown    bool
	MarkupMode         internal.PriceMode
}

// DefaultPrefs mirrors the values a freshly provisioned site starts with.
func DefaultPrefs() SitePrefs {
	return SitePrefs{
		MinimumCaratWeight: decimal.RequireFromString("0.2"),
		MaximumCaratWeight: decimal.RequireFromString("5"),
		MinimumPrice:       decimal.RequireFromString("1500"),
		MaximumPrice:       decimal.RequireFromString("200000"),
		MustBeCertified:    true,
		VerifyCertImages:   false,
		IncludeMined:       true,
		IncludeLabGrown:    true,
		MarkupMode:         internal.PriceByCost,
	}
}

type Site struct {
	Name     string
	Schema   string
	Prefs    SitePrefs
	Backends map[string]map[string]string
}

// Backend returns the settings block for a backend and whether the site lists it at all.
func (s Site) Backend(name string) (map[string]string, bool) {
	settings, ok := s.Backends[name]
	if settings == nil {
		settings = map[string]string{}
	}
	return settings, ok
}

// HasCredentials reports whether every named key is set for the backend.
func (s Site) HasCredentials(backend string, keys ...string) bool {
	settings, ok := s.Backend(backend)
	if !ok {
		return false
	}
	for _, k := range keys {
		if strings.TrimSpace(settings[k]) == "" {
			return false
		}
	}
	return true
}

type sitesFile struct {
	Sites map[string]siteYAML `yaml:"sites"`
}

type siteYAML struct {
	Schema   string                       `yaml:"schema"`
	Prefs    prefsYAML                    `yaml:"prefs"`
	Backends map[string]map[string]string `yaml:"backends"`
}

type prefsYAML struct {
	MinimumCaratWeight *string `yaml:"minimum_carat_weight"`
	MaximumCaratWeight *string `yaml:"maximum_carat_weight"`
	MinimumPrice       *string `yaml:"minimum_price"`
	MaximumPrice       *string `yaml:"maximum_price"`
	MustBeCertified    *bool   `yaml:"must_be_certified"`
	VerifyCertImages   *bool   `yaml:"verify_cert_images"`
	IncludeMined       *bool   `yaml:"include_mined"`
	IncludeLabGrown    *bool   `yaml:"include_lab_grown"`
	MarkupMode         *string `yaml:"markup_mode"`
	// Deprecated: older sites files spell markup_mode as markup.
	Markup *string `yaml:"markup"`
}

var siteNamePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

func LoadSites(path string) ([]Site, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sites file: %w", err)
	}
	return ParseSites(blob)
}

func ParseSites(blob []byte) ([]Site, error) {
	var doc sitesFile
	if err := yaml.Unmarshal(blob, &doc); err != nil {
		return nil, fmt.Errorf("parse sites file: %w", err)
	}

	out := make([]Site, 0, len(doc.Sites))
	for name, raw := range doc.Sites {
		if !siteNamePattern.MatchString(name) {
			return nil, fmt.Errorf("invalid site name %q", name)
		}
		prefs, err := raw.Prefs.resolve()
		if err != nil {
			return nil, fmt.Errorf("site %s: %w", name, err)
		}
		schema := raw.Schema
		if schema == "" {
			schema = name
		}
		backends := raw.Backends
		if backends == nil {
			backends = map[string]map[string]string{}
		}
		out = append(out, Site{Name: name, Schema: schema, Prefs: prefs, Backends: backends})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func FindSite(sites []Site, name string) (Site, error) {
	for _, s := range sites {
		if s.Name == name {
			return s, nil
		}
	}
	return Site{}, fmt.Errorf("unknown site: %s", name)
}

func (p prefsYAML) resolve() (SitePrefs, error) {
	out := DefaultPrefs()

	decimals := []struct {
		name string
		raw  *string
		dst  *decimal.Decimal
	}{
		{"minimum_carat_weight", p.MinimumCaratWeight, &out.MinimumCaratWeight},
		{"maximum_carat_weight", p.MaximumCaratWeight, &out.MaximumCaratWeight},
		{"minimum_price", p.MinimumPrice, &out.MinimumPrice},
		{"maximum_price", p.MaximumPrice, &out.MaximumPrice},
	}
	for _, d := range decimals {
		if d.raw == nil || strings.TrimSpace(*d.raw) == "" {
			continue
		}
		v, err := decimal.NewFromString(strings.TrimSpace(*d.raw))
		if err != nil {
			return SitePrefs{}, fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = v
	}

	if p.MustBeCertified != nil {
		out.MustBeCertified = *p.MustBeCertified
	}
	if p.VerifyCertImages != nil {
		out.VerifyCertImages = *p.VerifyCertImages
	}
	if p.IncludeMined != nil {
		out.IncludeMined = *p.IncludeMined
	}
	if p.IncludeLabGrown != nil {
		out.IncludeLabGrown = *p.IncludeLabGrown
	}
	mode := p.MarkupMode
	if mode == nil {
		mode = p.Markup
	}
	if mode != nil {
		switch internal.PriceMode(strings.ToLower(strings.TrimSpace(*mode))) {
		case internal.PriceByCost, "":
			out.MarkupMode = internal.PriceByCost
		case internal.PriceByCaratWeight:
			out.MarkupMode = internal.PriceByCaratWeight
		default:
			return SitePrefs{}, fmt.Errorf("markup_mode: unsupported mode %q", *mode)
		}
	}
	return out, nil
}
