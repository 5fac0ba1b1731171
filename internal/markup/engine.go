package markup

import (
	"github.com/shopspring/decimal"

	"gemfeed/internal"
)

var hundred = decimal.NewFromInt(100)

// Engine prices cost through ordered markup bands. The first band whose
// inclusive range contains the test value wins.
type Engine struct {
	standard []internal.MarkupBand
	lab      []internal.MarkupBand
}

func NewEngine(standard, lab []internal.MarkupBand) *Engine {
	return &Engine{standard: standard, lab: lab}
}

// PriceFor returns cost * (1 + percent/100) for the first matching band.
// Lab-grown stones use the lab list unless it is empty.
func (e *Engine) PriceFor(cost, caratWeight decimal.Decimal, labGrown bool, mode internal.PriceMode) (decimal.Decimal, bool) {
	band, ok := e.Band(cost, caratWeight, labGrown, mode)
	if !ok {
		return decimal.Zero, false
	}
	return cost.Mul(decimal.NewFromInt(1).Add(band.Percent.Div(hundred))), true
}

func (e *Engine) Band(cost, caratWeight decimal.Decimal, labGrown bool, mode internal.PriceMode) (internal.MarkupBand, bool) {
	bands := e.standard
	if labGrown && len(e.lab) > 0 {
		bands = e.lab
	}
	test := cost
	if mode == internal.PriceByCaratWeight {
		test = caratWeight
	}
	for _, b := range bands {
		if b.Lower.LessThanOrEqual(test) && test.LessThanOrEqual(b.Upper) {
			return b, true
		}
	}
	return internal.MarkupBand{}, false
}

func (e *Engine) Empty() bool {
	return len(e.standard) == 0 && len(e.lab) == 0
}
