package domain

import "errors"

// Selection is the outcome of picking a stocked width for a print job.
// MarginMet is false when no stocked width leaves the requested safety
// margin and the widest available width was used instead.
type Selection struct {
	Width     int64 `json:"width"`
	MarginMet bool  `json:"margin_met"`
}

// ErrNoStockConfigured means no widths are stocked for the material at all.
var ErrNoStockConfigured = errors.New("no_stock_configured")

// SelectWidth picks the smallest stocked width that covers the requested
// width plus margin. Widths must be sorted ascending. When nothing covers
// it, the widest stocked width is returned with MarginMet false.
func SelectWidth(widths []int64, requested, margin int64) (Selection, error) {
	if len(widths) == 0 {
		return Selection{}, ErrNoStockConfigured
	}
	need := requested + margin
	for _, width := range widths {
		if width >= need {
			return Selection{Width: width, MarginMet: true}, nil
		}
	}
	return Selection{Width: widths[len(widths)-1], MarginMet: false}, nil
}
