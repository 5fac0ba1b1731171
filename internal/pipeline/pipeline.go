package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"gemfeed/internal"
	"gemfeed/internal/config"
	"gemfeed/internal/markup"
	"gemfeed/internal/refs"
	"gemfeed/internal/util"
)

var maxDimension = decimal.NewFromInt(100)

// CertImageChecker verifies that a certificate image URL resolves.
type CertImageChecker interface {
	Exists(ctx context.Context, url string) bool
}

type Options struct {
	Source string
	Prefs  config.SitePrefs
	Tables *refs.Tables
	Markup *markup.Engine
	Images CertImageChecker
	// Now stamps added/updated on every row of the run.
	Now time.Time
}

// Pipeline turns field bags into canonical rows for one backend run.
type Pipeline struct {
	opts    Options
	cleaner *util.Cleaner
	images  map[string]bool
	tally   *Tally
}

func New(opts Options) *Pipeline {
	if opts.Now.IsZero() {
		opts.Now = time.Now().UTC()
	}
	return &Pipeline{
		opts:    opts,
		cleaner: util.NewCleaner(),
		images:  map[string]bool{},
		tally:   NewTally(),
	}
}

func (p *Pipeline) Tally() *Tally {
	return p.tally
}

// Process never panics on bad input and never returns a Go error; every
// record yields exactly one outcome, which is also recorded in the tally.
func (p *Pipeline) Process(ctx context.Context, f Fields) Outcome {
	o := p.process(ctx, f)
	p.tally.Record(o)
	return o
}

func (p *Pipeline) process(ctx context.Context, f Fields) Outcome {
	c := p.cleaner
	prefs := p.opts.Prefs
	tables := p.opts.Tables

	stock := c.Upper(f.StockNumber)
	if stock == "" {
		return fail("missing stock number", nil)
	}

	weight, err := util.ParseDecimal(c.Clean(f.CaratWeight, false))
	if err != nil || !weight.IsPositive() {
		return fail("invalid carat weight", err)
	}
	if weight.LessThan(prefs.MinimumCaratWeight) {
		return skip("carat weight below minimum")
	}
	if prefs.MaximumCaratWeight.IsPositive() && weight.GreaterThan(prefs.MaximumCaratWeight) {
		return skip("carat weight above maximum")
	}

	certifier := c.Upper(f.Certifier)
	uncertified := isUncertified(certifier)
	if prefs.MustBeCertified && uncertified {
		return skip("no valid certifier")
	}
	var certifierID *int64
	if !uncertified {
		res, err := tables.ResolveCertifier(ctx, certifier)
		switch {
		case err != nil && prefs.MustBeCertified:
			return fail("certifier unavailable", err)
		case err != nil:
			certifierID = nil
		case res.Status == refs.CertifierDisabled:
			return skip("certifier disabled")
		default:
			certifierID = util.Int64Ptr(res.ID)
		}
	}

	clarityRaw := c.Upper(f.Clarity)
	if clarityRaw == "" {
		return fail("missing clarity", nil)
	}
	clarity, err := tables.ResolveOrFail(internal.TableClarity, clarityRaw)
	if err != nil {
		return fail("unknown clarity", err)
	}

	cutRaw := c.Upper(f.Cut)
	if cutRaw == "" {
		return fail("missing cut", nil)
	}
	cut, err := tables.ResolveOrFail(internal.TableCut, cutRaw)
	if err != nil {
		return fail("unknown cut", err)
	}

	if f.LabGrown && !prefs.IncludeLabGrown {
		return skip("lab-grown excluded")
	}
	if !f.LabGrown && !prefs.IncludeMined {
		return skip("mined excluded")
	}

	cost, err := p.cost(f, weight)
	if err != nil {
		return fail("missing price", err)
	}
	if prefs.MinimumPrice.IsPositive() && cost.LessThan(prefs.MinimumPrice) {
		return skip("price below minimum")
	}
	if prefs.MaximumPrice.IsPositive() && cost.GreaterThan(prefs.MaximumPrice) {
		return skip("price above maximum")
	}

	row := &internal.Diamond{
		Added:          p.opts.Now,
		Updated:        p.opts.Now,
		Active:         !f.Inactive,
		Source:         p.opts.Source,
		LotNum:         c.Clean(f.LotNum, false),
		StockNumber:    stock,
		Owner:          c.Clean(f.Owner, false),
		Cut:            util.Int64Ptr(cut),
		Clarity:        util.Int64Ptr(clarity),
		CaratWeight:    weight,
		Certifier:      certifierID,
		CertNum:        c.Clean(f.CertNum, false),
		Culet:          c.Upper(f.Culet),
		Comment:        c.Clean(f.Comment, false),
		City:           c.Clean(f.City, false),
		State:          c.Clean(f.State, false),
		Country:        c.Clean(f.Country, false),
		Manmade:        f.LabGrown,
		LaserInscribed: f.LaserInscribed,
		Data:           f.Data,
	}

	row.Color = p.soft(internal.TableColor, c.Upper(f.Color))
	row.CutGrade = p.soft(internal.TableGrading, c.Upper(f.CutGrade))
	row.Polish = p.soft(internal.TableGrading, c.Upper(f.Polish))
	row.Symmetry = p.soft(internal.TableGrading, c.Upper(f.Symmetry))
	row.Fluorescence, row.FluorescenceColor = p.fluorescence(f.Fluorescence, f.FluorescenceColor)
	row.FancyColor = p.soft(internal.TableFancyColor, fancyKey(c, f.FancyColor))
	row.FancyColorIntensity = p.soft(internal.TableFancyColorIntensity, fancyKey(c, f.FancyColorIntensity))
	row.FancyColorOvertone = p.soft(internal.TableFancyColorOvertone, fancyKey(c, f.FancyColorOvertone))

	row.DepthPercent = percent(c.Clean(f.DepthPercent, false))
	row.TablePercent = percent(c.Clean(f.TablePercent, false))

	girdle := c.Upper(f.Girdle)
	if girdle == "-" {
		girdle = ""
	}
	row.Girdle = girdle

	length, width, depth := c.Clean(f.Length, false), c.Clean(f.Width, false), c.Clean(f.Depth, false)
	if length == "" && width == "" && depth == "" {
		if l, w, d, ok := util.SplitMeasurements(c.Clean(f.Measurements, false)); ok {
			length, width, depth = l, w, d
		}
	}
	row.Length = dimension(length)
	row.Width = dimension(width)
	row.Depth = dimension(depth)

	row.CertImage = p.certImage(ctx, f.CertImage)

	if rapDate, err := util.ParseFeedDate(c.Clean(f.RapDate, false)); err == nil {
		row.RapDate = &rapDate
	}

	price, ok := p.opts.Markup.PriceFor(cost, weight, f.LabGrown, prefs.MarkupMode)
	if !ok {
		return fail("no markup band", nil)
	}

	row.Cost = cost.Round(2)
	row.Price = price.Round(2)
	row.CaratPrice = price.Div(weight).Round(2)

	return emit(row)
}

// isUncertified treats blank, "NONE"-bearing and "N" certifier values as absent.
func isUncertified(certifier string) bool {
	return certifier == "" || strings.Contains(certifier, "NONE") || certifier == "N"
}

func (p *Pipeline) soft(table, value string) *int64 {
	if value == "" {
		return nil
	}
	id, ok := p.opts.Tables.Resolve(table, value)
	if !ok {
		p.tally.missing(table, value)
		return nil
	}
	return &id
}

// fluorescence resolves intensity by prefix. With no explicit colour the
// remainder after the matched intensity alias ("STRONG BLUE" -> "BLUE") is used.
func (p *Pipeline) fluorescence(rawIntensity, rawColor string) (*int64, *int64) {
	c := p.cleaner
	tables := p.opts.Tables

	var intensity *int64
	value := c.Upper(rawIntensity)
	color := c.Upper(rawColor)
	if value != "" {
		id, alias, ok := tables.ResolvePrefix(internal.TableFluorescence, value)
		if ok {
			intensity = &id
			if color == "" {
				color = strings.TrimSpace(value[len(alias):])
			}
		} else {
			p.tally.missing(internal.TableFluorescence, value)
		}
	}

	if color == "" {
		return intensity, nil
	}
	id, _, ok := tables.ResolvePrefix(internal.TableFluorescenceColor, color)
	if !ok {
		p.tally.missing(internal.TableFluorescenceColor, color)
		return intensity, nil
	}
	return intensity, &id
}

func fancyKey(c *util.Cleaner, raw string) string {
	if raw == "" {
		return ""
	}
	return c.Upper(strings.ReplaceAll(raw, "-", " "))
}

func (p *Pipeline) certImage(ctx context.Context, raw string) string {
	url := strings.TrimSpace(raw)
	url = strings.ReplaceAll(url, ".net//", ".net/")
	url = strings.ReplaceAll(url, "\\", "/")
	url = p.cleaner.Clean(url, false)
	if url == "" || !p.opts.Prefs.VerifyCertImages || p.opts.Images == nil {
		return url
	}
	exists, seen := p.images[url]
	if !seen {
		exists = p.opts.Images.Exists(ctx, url)
		p.images[url] = exists
	}
	if !exists {
		return ""
	}
	return url
}

var errNoPrice = errors.New("no total or per-carat price")

func (p *Pipeline) cost(f Fields, weight decimal.Decimal) (decimal.Decimal, error) {
	c := p.cleaner
	if total, err := util.ParseDecimal(c.Clean(f.TotalPrice, false)); err == nil && total.IsPositive() {
		return total, nil
	}
	if perCarat, err := util.ParseDecimal(c.Clean(f.CaratPrice, false)); err == nil && perCarat.IsPositive() {
		return perCarat.Mul(weight), nil
	}
	return decimal.Zero, errNoPrice
}

func percent(raw string) *decimal.Decimal {
	v := util.ParseDecimalPtr(raw)
	if v == nil || v.IsNegative() || v.GreaterThan(maxDimension) {
		return nil
	}
	return v
}

func dimension(raw string) *decimal.Decimal {
	v := util.ParseDecimalPtr(raw)
	if v == nil || !v.IsPositive() || v.GreaterThan(maxDimension) {
		return nil
	}
	return v
}
