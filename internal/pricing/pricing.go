// Package pricing holds the ticket money rules shared by coupons, checkout and upgrades.
//
// Amounts are rupees as float64, always rounded half away from zero to two decimals.
// A percentage discount is applied to whatever amount the caller passes; forms pass the
// GST-inclusive total, so 2950 at 10% off becomes 2655.
package pricing

import "math"

const DefaultGSTRate = 0.18

type Quote struct {
	Price float64 `json:"price"`
	GST   float64 `json:"gst"`
	Total float64 `json:"total"`
}

func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// NewQuote computes GST on price. A negative rate falls back to DefaultGSTRate.
func NewQuote(price, gstRate float64) Quote {
	if price < 0 {
		price = 0
	}
	if gstRate < 0 {
		gstRate = DefaultGSTRate
	}

	price = Round2(price)
	gst := Round2(price * gstRate)

	return Quote{
		Price: price,
		GST:   gst,
		Total: Round2(price + gst),
	}
}

// ApplyDiscount returns amount reduced by percent, clamped to [0, amount].
func ApplyDiscount(amount float64, percent int) float64 {
	if percent <= 0 {
		return Round2(amount)
	}
	if percent >= 100 {
		return 0
	}
	return Round2(amount * float64(100-percent) / 100)
}
