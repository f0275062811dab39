// Package ticket scores how complete an order draft is and prices it for
// review. Every function here is pure: scores are derived from the draft on
// each call and never cached.
package ticket

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ksred/orderpad/internal/types"
)

const (
	sharesWeight = 33
	kindWeight   = 34
	pricesWeight = 33

	// Complete is the only score at which a draft may be reviewed
	Complete = sharesWeight + kindWeight + pricesWeight
)

// Status labels shown next to the completion bar
const (
	StatusIncomplete  = "INCOMPLETE"
	StatusAlmostReady = "ALMOST READY"
	StatusReady       = "READY TO SUBMIT"
)

// Bar colours for the completion bar
const (
	ColorRed    = "red"
	ColorYellow = "yellow"
	ColorGreen  = "green"
)

// Requirements maps each order kind to the price fields it needs.
// Market needs none.
var Requirements = map[types.OrderKind][]types.Field{
	types.KindMarket:    nil,
	types.KindLimit:     {types.FieldLimitPrice},
	types.KindStopLoss:  {types.FieldStopPrice},
	types.KindStopLimit: {types.FieldStopPrice, types.FieldLimitPrice},
}

// Completion returns the additive readiness score of a draft:
// +33 for shares, +34 for a chosen kind, +33 once every price the kind
// requires is present. Fields the kind does not require are ignored.
func Completion(d types.Draft) int {
	score := 0
	if present(d.Shares) {
		score += sharesWeight
	}

	required, known := Requirements[d.Kind]
	if !known {
		return score
	}
	score += kindWeight

	if pricesPresent(d, required) {
		score += pricesWeight
	}
	return score
}

// IsReady reports whether a score allows the draft to move to review
func IsReady(score int) bool {
	return score == Complete
}

// StatusLabel renders a score as the status text above the completion bar
func StatusLabel(score int) string {
	switch {
	case score < kindWeight:
		return StatusIncomplete
	case score < Complete:
		return StatusAlmostReady
	default:
		return StatusReady
	}
}

// BarColor picks the completion bar colour using the same thresholds as
// StatusLabel
func BarColor(score int) string {
	switch {
	case score < kindWeight:
		return ColorRed
	case score < Complete:
		return ColorYellow
	default:
		return ColorGreen
	}
}

// MissingFields lists the inputs that still need a value, in the order they
// appear on the entry screen. Price fields are only listed once a kind that
// requires them is chosen.
func MissingFields(d types.Draft) []types.Field {
	missing := make([]types.Field, 0, 4)
	if !present(d.Shares) {
		missing = append(missing, types.FieldShares)
	}

	required, known := Requirements[d.Kind]
	if !known {
		return append(missing, types.FieldOrderKind)
	}

	// entry screen shows stop before limit for stop limit orders
	for _, f := range required {
		if !present(d.Value(f)) {
			missing = append(missing, f)
		}
	}
	return missing
}

// EstimatedTotal prices the draft for the review screen. Limit orders use
// their limit price when it parses; everything else uses the market price.
// Unparsable shares count as zero. The result is not rounded.
func EstimatedTotal(d types.Draft, marketPrice float64) decimal.Decimal {
	unit := decimal.NewFromFloat(marketPrice)
	if d.Kind == types.KindLimit {
		if limit, ok := parse(d.LimitPrice); ok {
			unit = limit
		}
	}

	shares, ok := parse(d.Shares)
	if !ok {
		return decimal.Zero
	}
	return unit.Mul(shares)
}

// Disclaimer is the notice shown under the review summary for a kind
func Disclaimer(d types.Draft) string {
	switch d.Kind {
	case types.KindMarket:
		return "Market orders execute immediately. Final price may vary slightly due to market movement."
	case types.KindLimit:
		return fmt.Sprintf("Your order will only execute at $%s or better. It may not fill if the price doesn't reach your limit.", strings.TrimSpace(d.LimitPrice))
	case types.KindStopLoss:
		return fmt.Sprintf("Your shares will automatically sell if the price drops to $%s.", strings.TrimSpace(d.StopPrice))
	case types.KindStopLimit:
		return "Your order combines stop and limit for precise control. Execution is not guaranteed."
	}
	return ""
}

func pricesPresent(d types.Draft, required []types.Field) bool {
	for _, f := range required {
		if !present(d.Value(f)) {
			return false
		}
	}
	return true
}

// present treats anything that is not a positive number as absent
func present(raw string) bool {
	v, ok := parse(raw)
	return ok && v.IsPositive()
}

func parse(raw string) (decimal.Decimal, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, false
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false
	}
	return v, true
}
