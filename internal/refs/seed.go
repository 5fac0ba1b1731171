package refs

import (
	"context"
	"fmt"
	"os"
	"slices"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"gemfeed/internal"
)

// Seeder persists reference data and markup bands.
type Seeder interface {
	UpsertReferenceEntries(ctx context.Context, table string, entries []internal.ReferenceEntry) error
	ReplaceMarkups(ctx context.Context, standard, lab []internal.MarkupBand) error
}

// Seed is a reference data file: alias tables plus the two markup lists.
type Seed struct {
	Tables   map[string][]internal.ReferenceEntry
	Standard []internal.MarkupBand
	LabGrown []internal.MarkupBand
}

type seedYAML struct {
	Tables  map[string][]internal.ReferenceEntry `yaml:"tables"`
	Markups struct {
		Standard []bandYAML `yaml:"standard"`
		LabGrown []bandYAML `yaml:"lab_grown"`
	} `yaml:"markups"`
}

type bandYAML struct {
	Lower   string `yaml:"lower"`
	Upper   string `yaml:"upper"`
	Percent string `yaml:"percent"`
}

func LoadSeed(path string) (Seed, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("read seed file: %w", err)
	}
	return ParseSeed(blob)
}

func ParseSeed(blob []byte) (Seed, error) {
	var doc seedYAML
	if err := yaml.Unmarshal(blob, &doc); err != nil {
		return Seed{}, fmt.Errorf("parse seed file: %w", err)
	}
	for table := range doc.Tables {
		if !slices.Contains(internal.ReferenceTableNames, table) {
			return Seed{}, fmt.Errorf("unknown reference table %q", table)
		}
	}
	standard, err := parseBands(doc.Markups.Standard)
	if err != nil {
		return Seed{}, fmt.Errorf("standard markups: %w", err)
	}
	lab, err := parseBands(doc.Markups.LabGrown)
	if err != nil {
		return Seed{}, fmt.Errorf("lab-grown markups: %w", err)
	}
	return Seed{Tables: doc.Tables, Standard: standard, LabGrown: lab}, nil
}

func parseBands(in []bandYAML) ([]internal.MarkupBand, error) {
	out := make([]internal.MarkupBand, 0, len(in))
	for i, b := range in {
		lower, err1 := decimal.NewFromString(b.Lower)
		upper, err2 := decimal.NewFromString(b.Upper)
		pct, err3 := decimal.NewFromString(b.Percent)
		if err1 != nil || err2 != nil || err3 != nil {
			return nil, fmt.Errorf("band %d: lower, upper and percent must be numbers", i+1)
		}
		if upper.LessThan(lower) {
			return nil, fmt.Errorf("band %d: upper %s below lower %s", i+1, upper, lower)
		}
		out = append(out, internal.MarkupBand{Lower: lower, Upper: upper, Percent: pct})
	}
	return out, nil
}

// Apply writes every table in the seed. Markups are replaced only when the
// seed carries at least one band, so a tables-only file keeps existing bands.
func (s Seed) Apply(ctx context.Context, store Seeder) error {
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if err := store.UpsertReferenceEntries(ctx, name, s.Tables[name]); err != nil {
			return fmt.Errorf("seed %s: %w", name, err)
		}
	}
	if len(s.Standard) == 0 && len(s.LabGrown) == 0 {
		return nil
	}
	if err := store.ReplaceMarkups(ctx, s.Standard, s.LabGrown); err != nil {
		return fmt.Errorf("seed markups: %w", err)
	}
	return nil
}
