package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"gemfeed/internal"
	"gemfeed/internal/config"
	"gemfeed/internal/markup"
	"gemfeed/internal/refs"
)

type countingCreator struct {
	next  int64
	calls int
}

func (c *countingCreator) CreateCertifier(_ context.Context, _ string) (int64, error) {
	c.calls++
	c.next++
	return c.next, nil
}

type fakeImages map[string]bool

func (f fakeImages) Exists(_ context.Context, url string) bool { return f[url] }

func testTables(creator refs.CertifierCreator) *refs.Tables {
	return refs.Build(map[string][]internal.ReferenceEntry{
		internal.TableCut:               {{ID: 1, Abbr: "RB", Name: "Round", Aliases: "BR\nROUND BRILLIANT"}},
		internal.TableColor:             {{ID: 2, Abbr: "G"}},
		internal.TableClarity:           {{ID: 3, Abbr: "VS1"}},
		internal.TableGrading:           {{ID: 4, Abbr: "EX", Name: "Excellent"}},
		internal.TableFluorescence:      {{ID: 5, Abbr: "MED", Aliases: "MEDIUM"}, {ID: 6, Abbr: "N", Name: "None"}},
		internal.TableFluorescenceColor: {{ID: 7, Abbr: "B", Name: "Blue"}},
		internal.TableCertifier:         {{ID: 8, Abbr: "IGI"}, {ID: 9, Abbr: "EGL", Disabled: true}},
		internal.TableFancyColor:        {{ID: 10, Name: "Light Yellow"}},
	}, creator)
}

func testPrefs() config.SitePrefs {
	p := config.DefaultPrefs()
	p.MinimumCaratWeight = decimal.RequireFromString("0.20")
	p.MaximumCaratWeight = decimal.RequireFromString("5")
	p.MinimumPrice = decimal.Zero
	p.MaximumPrice = decimal.Zero
	return p
}

func testPipeline(prefs config.SitePrefs, creator refs.CertifierCreator) *Pipeline {
	engine := markup.NewEngine([]internal.MarkupBand{
		{Lower: decimal.Zero, Upper: decimal.NewFromInt(500), Percent: decimal.NewFromInt(10)},
		{Lower: decimal.NewFromInt(500), Upper: decimal.NewFromInt(2000), Percent: decimal.NewFromInt(20)},
	}, nil)
	return New(Options{
		Source: "testfeed",
		Prefs:  prefs,
		Tables: testTables(creator),
		Markup: engine,
		Now:    time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	})
}

func baseFields() Fields {
	return Fields{
		StockNumber: " ab-123 ",
		Cut:         "round",
		Color:       "g",
		Clarity:     "  vs1 ",
		CaratWeight: "1.00",
		TotalPrice:  "1000",
		Certifier:   "IGI",
		Polish:      "Excellent",
		Symmetry:    "EX",
	}
}

func TestProcessEmitsPricedRow(t *testing.T) {
	p := testPipeline(testPrefs(), nil)
	o := p.Process(context.Background(), baseFields())
	if o.Kind != Emit {
		t.Fatalf("kind=%s reason=%s err=%v", o.Kind, o.Reason, o.Err)
	}
	row := o.Row
	if row.StockNumber != "AB-123" || row.Source != "testfeed" || !row.Active {
		t.Fatalf("row=%+v", row)
	}
	if *row.Clarity != 3 || *row.Cut != 1 || *row.Color != 2 || *row.Certifier != 8 {
		t.Fatalf("ids wrong: %+v", row)
	}
	if *row.Polish != 4 || *row.Symmetry != 4 || row.CutGrade != nil {
		t.Fatal("grading ids wrong")
	}
	if row.Cost.StringFixed(2) != "1000.00" || row.Price.StringFixed(2) != "1200.00" || row.CaratPrice.StringFixed(2) != "1200.00" {
		t.Fatalf("cost=%s price=%s carat=%s", row.Cost, row.Price, row.CaratPrice)
	}
	if p.Tally().Emitted != 1 {
		t.Fatalf("tally=%+v", p.Tally())
	}
}

func TestProcessPerCaratPrice(t *testing.T) {
	p := testPipeline(testPrefs(), nil)
	f := baseFields()
	f.TotalPrice = ""
	f.CaratPrice = "$400.00"
	f.CaratWeight = "1.25"
	o := p.Process(context.Background(), f)
	if o.Kind != Emit {
		t.Fatalf("kind=%s reason=%s", o.Kind, o.Reason)
	}
	// cost 500 hits the first band at its upper bound
	if o.Row.Price.StringFixed(2) != "550.00" || o.Row.CaratPrice.StringFixed(2) != "440.00" {
		t.Fatalf("price=%s carat=%s", o.Row.Price, o.Row.CaratPrice)
	}
}

func TestProcessSkipsAndErrors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Fields, *config.SitePrefs)
		kind   Kind
		reason string
	}{
		{name: "below minimum carat", mutate: func(f *Fields, _ *config.SitePrefs) { f.CaratWeight = "0.15" }, kind: Skip, reason: "carat weight below minimum"},
		{name: "above maximum carat", mutate: func(f *Fields, _ *config.SitePrefs) { f.CaratWeight = "6" }, kind: Skip, reason: "carat weight above maximum"},
		{name: "no certifier", mutate: func(f *Fields, _ *config.SitePrefs) { f.Certifier = "none" }, kind: Skip, reason: "no valid certifier"},
		{name: "certifier N", mutate: func(f *Fields, _ *config.SitePrefs) { f.Certifier = "n" }, kind: Skip, reason: "no valid certifier"},
		{name: "disabled certifier", mutate: func(f *Fields, _ *config.SitePrefs) { f.Certifier = "egl" }, kind: Skip, reason: "certifier disabled"},
		{name: "missing clarity", mutate: func(f *Fields, _ *config.SitePrefs) { f.Clarity = " " }, kind: Error, reason: "missing clarity"},
		{name: "unknown clarity", mutate: func(f *Fields, _ *config.SitePrefs) { f.Clarity = "I9" }, kind: Error, reason: "unknown clarity"},
		{name: "unknown cut", mutate: func(f *Fields, _ *config.SitePrefs) { f.Cut = "trillion" }, kind: Error, reason: "unknown cut"},
		{name: "missing stock number", mutate: func(f *Fields, _ *config.SitePrefs) { f.StockNumber = "" }, kind: Error, reason: "missing stock number"},
		{name: "bad weight", mutate: func(f *Fields, _ *config.SitePrefs) { f.CaratWeight = "n/a" }, kind: Error, reason: "invalid carat weight"},
		{name: "no price", mutate: func(f *Fields, _ *config.SitePrefs) { f.TotalPrice = "" }, kind: Error, reason: "missing price"},
		{name: "no band", mutate: func(f *Fields, _ *config.SitePrefs) { f.TotalPrice = "2500" }, kind: Error, reason: "no markup band"},
		{name: "lab excluded", mutate: func(f *Fields, p *config.SitePrefs) { f.LabGrown = true; p.IncludeLabGrown = false }, kind: Skip, reason: "lab-grown excluded"},
		{name: "mined excluded", mutate: func(_ *Fields, p *config.SitePrefs) { p.IncludeMined = false }, kind: Skip, reason: "mined excluded"},
		{name: "price below minimum", mutate: func(_ *Fields, p *config.SitePrefs) { p.MinimumPrice = decimal.NewFromInt(1500) }, kind: Skip, reason: "price below minimum"},
		{name: "price above maximum", mutate: func(_ *Fields, p *config.SitePrefs) { p.MaximumPrice = decimal.NewFromInt(900) }, kind: Skip, reason: "price above maximum"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := baseFields()
			prefs := testPrefs()
			tc.mutate(&f, &prefs)
			p := testPipeline(prefs, nil)
			o := p.Process(context.Background(), f)
			if o.Kind != tc.kind || o.Reason != tc.reason {
				t.Fatalf("got %s/%q want %s/%q", o.Kind, o.Reason, tc.kind, tc.reason)
			}
			if o.Row != nil {
				t.Fatal("non-emit outcome carries a row")
			}
		})
	}
}

func TestProcessRecordsMissingAliases(t *testing.T) {
	p := testPipeline(testPrefs(), nil)
	f := baseFields()
	f.Clarity = "I9"
	p.Process(context.Background(), f)
	p.Process(context.Background(), f)

	f = baseFields()
	f.Color = "zz"
	if o := p.Process(context.Background(), f); o.Kind != Emit || o.Row.Color != nil {
		t.Fatalf("unknown color should degrade to null, got %s", o.Kind)
	}

	tally := p.Tally()
	if tally.MissingAliases["clarity:I9"] != 2 || tally.MissingAliases["color:ZZ"] != 1 {
		t.Fatalf("missing=%v", tally.MissingAliases)
	}
	if tally.Errors != 2 || tally.Emitted != 1 {
		t.Fatalf("tally=%+v", tally)
	}
	top := tally.TopMissing(1)
	if len(top) != 1 || top[0].Key != "clarity:I9" {
		t.Fatalf("top=%v", top)
	}
}

func TestPriceSkipDoesNotCountMissingAliases(t *testing.T) {
	prefs := testPrefs()
	prefs.MaximumPrice = decimal.NewFromInt(900)
	p := testPipeline(prefs, nil)
	f := baseFields()
	f.Color = "zz"
	if o := p.Process(context.Background(), f); o.Kind != Skip || o.Reason != "price above maximum" {
		t.Fatalf("got %s/%q", o.Kind, o.Reason)
	}
	if len(p.Tally().MissingAliases) != 0 {
		t.Fatalf("missing=%v", p.Tally().MissingAliases)
	}
}

func TestUnknownCertifierCreatedOnce(t *testing.T) {
	creator := &countingCreator{next: 40}
	p := testPipeline(testPrefs(), creator)
	f := baseFields()
	f.Certifier = "gia"
	for i := 0; i < 3; i++ {
		o := p.Process(context.Background(), f)
		if o.Kind != Emit || o.Row.Certifier == nil || *o.Row.Certifier != 41 {
			t.Fatalf("row %d: kind=%s", i, o.Kind)
		}
	}
	if creator.calls != 1 {
		t.Fatalf("creator calls=%d", creator.calls)
	}
}

func TestOptionalCertifierBecomesNull(t *testing.T) {
	prefs := testPrefs()
	prefs.MustBeCertified = false
	p := testPipeline(prefs, nil)

	for _, cert := range []string{"", "NONE", "N", "UNKNOWNLAB"} {
		f := baseFields()
		f.Certifier = cert
		o := p.Process(context.Background(), f)
		if o.Kind != Emit {
			t.Fatalf("%q: kind=%s reason=%s", cert, o.Kind, o.Reason)
		}
		if o.Row.Certifier != nil {
			t.Fatalf("%q: expected null certifier", cert)
		}
	}
}

func TestCosmeticFields(t *testing.T) {
	prefs := testPrefs()
	prefs.VerifyCertImages = true
	p := testPipeline(prefs, nil)
	p.opts.Images = fakeImages{"http://certs.example.net/a/1.jpg": true}

	f := baseFields()
	f.Fluorescence = "medium blue"
	f.DepthPercent = "61.5"
	f.TablePercent = "157"
	f.Measurements = "6.41x6.45-3.95"
	f.Girdle = "-"
	f.CertImage = `http://certs.example.net//a\1.jpg`
	f.FancyColor = "light-yellow"
	f.RapDate = "3/5/2024"
	f.LabGrown = true

	o := p.Process(context.Background(), f)
	if o.Kind != Emit {
		t.Fatalf("kind=%s reason=%s", o.Kind, o.Reason)
	}
	row := o.Row
	if row.Fluorescence == nil || *row.Fluorescence != 5 {
		t.Fatal("fluorescence not resolved by prefix")
	}
	if row.FluorescenceColor == nil || *row.FluorescenceColor != 7 {
		t.Fatal("fluorescence colour not derived from remainder")
	}
	if row.DepthPercent == nil || row.DepthPercent.String() != "61.5" || row.TablePercent != nil {
		t.Fatal("percent handling wrong")
	}
	if row.Length.String() != "6.41" || row.Width.String() != "6.45" || row.Depth.String() != "3.95" {
		t.Fatalf("measurements %v %v %v", row.Length, row.Width, row.Depth)
	}
	if row.Girdle != "" {
		t.Fatalf("girdle=%q", row.Girdle)
	}
	if row.CertImage != "http://certs.example.net/a/1.jpg" {
		t.Fatalf("cert image=%q", row.CertImage)
	}
	if row.FancyColor == nil || *row.FancyColor != 10 {
		t.Fatal("fancy colour not resolved")
	}
	if row.RapDate == nil || row.RapDate.Day() != 5 {
		t.Fatal("rap date not parsed")
	}
	if !row.Manmade {
		t.Fatal("lab-grown stone should be manmade")
	}

	f.CertImage = "http://certs.example.net/missing.jpg"
	if o := p.Process(context.Background(), f); o.Row.CertImage != "" {
		t.Fatalf("unverified image kept: %q", o.Row.CertImage)
	}
}
