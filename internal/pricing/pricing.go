// Package pricing computes order line amounts. All arithmetic is integer:
// dimensions are whole centimeters and amounts are minor currency units,
// so quoting the same input twice always yields the same total.
package pricing

import "errors"

// Input describes one print job line to price. UnitPrice and the surcharge
// values are minor units per square meter.
type Input struct {
	Width      int64
	Length     int64
	Quantity   int64
	UnitPrice  int64
	Options    []string
	Surcharges map[string]int64
	Special    bool
}

// Quote is the priced result. PerUnit is the price of one piece including
// finishing surcharges. Special orders carry a zero total but keep PerUnit
// so the foregone amount stays visible.
type Quote struct {
	PerUnit     int64 `json:"per_unit"`
	BaseAmount  int64 `json:"base_amount"`
	OptionTotal int64 `json:"option_total"`
	Total       int64 `json:"total"`
}

var (
	ErrInvalidDimension = errors.New("invalid_dimension")
	ErrInvalidQuantity  = errors.New("invalid_quantity")
	ErrInvalidUnitPrice = errors.New("invalid_unit_price")
)

// squareCentimetersPerSquareMeter converts cm x cm areas to m2.
const squareCentimetersPerSquareMeter = 10000

// Compute prices one line. The base amount is area times unit price,
// rounded half up at the per-piece level before quantity is applied.
// Option names without a surcharge entry are ignored.
func Compute(in Input) (Quote, error) {
	if in.Width <= 0 || in.Length <= 0 {
		return Quote{}, ErrInvalidDimension
	}
	if in.Quantity <= 0 {
		return Quote{}, ErrInvalidQuantity
	}
	if in.UnitPrice <= 0 {
		return Quote{}, ErrInvalidUnitPrice
	}

	area := in.Width * in.Length
	base := roundHalfUp(area*in.UnitPrice, squareCentimetersPerSquareMeter)

	var optionTotal int64
	for _, option := range in.Options {
		if surcharge, ok := in.Surcharges[option]; ok {
			optionTotal += roundHalfUp(area*surcharge, squareCentimetersPerSquareMeter)
		}
	}

	quote := Quote{
		PerUnit:     base + optionTotal,
		BaseAmount:  base,
		OptionTotal: optionTotal,
	}
	if !in.Special {
		quote.Total = quote.PerUnit * in.Quantity
	}
	return quote, nil
}

func roundHalfUp(numerator, denominator int64) int64 {
	return (numerator + denominator/2) / denominator
}
