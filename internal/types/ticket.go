package types

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderKind is the order type picked on the order types screen
type OrderKind string

const (
	KindUnset     OrderKind = ""
	KindMarket    OrderKind = "Market"
	KindLimit     OrderKind = "Limit"
	KindStopLoss  OrderKind = "Stop Loss"
	KindStopLimit OrderKind = "Stop Limit"
)

// OrderKinds lists every selectable kind in picker order
var OrderKinds = []OrderKind{KindMarket, KindLimit, KindStopLoss, KindStopLimit}

// ParseOrderKind accepts display names as well as url-friendly spellings
// such as "stop_loss", "stop-limit" or "MARKET". Unknown input yields false.
func ParseOrderKind(s string) (OrderKind, bool) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("_", "", "-", "", " ", "").Replace(norm)
	switch norm {
	case "market":
		return KindMarket, true
	case "limit":
		return KindLimit, true
	case "stoploss":
		return KindStopLoss, true
	case "stoplimit":
		return KindStopLimit, true
	}
	return KindUnset, false
}

// Field names a user-editable input on the entry screen
type Field string

const (
	FieldShares     Field = "shares"
	FieldOrderKind  Field = "order_kind"
	FieldLimitPrice Field = "limit_price"
	FieldStopPrice  Field = "stop_price"
)

// Draft is the in-progress order as typed by the user. Numeric fields stay
// raw strings; interpretation happens in the ticket package.
type Draft struct {
	Shares     string    `json:"shares"`
	Kind       OrderKind `json:"order_kind"`
	LimitPrice string    `json:"limit_price"`
	StopPrice  string    `json:"stop_price"`
}

// Value returns the raw input for a price or quantity field
func (d Draft) Value(f Field) string {
	switch f {
	case FieldShares:
		return d.Shares
	case FieldLimitPrice:
		return d.LimitPrice
	case FieldStopPrice:
		return d.StopPrice
	case FieldOrderKind:
		return string(d.Kind)
	}
	return ""
}

// Receipt is issued once per confirmed order and only lives as long as the
// process-scoped store behind it
type Receipt struct {
	ID             uint            `gorm:"primaryKey" json:"-"`
	ReferenceID    string          `gorm:"uniqueIndex" json:"reference_id"`
	SessionID      string          `gorm:"index" json:"-"`
	Symbol         string          `json:"symbol"`
	Kind           OrderKind       `json:"order_kind"`
	Shares         string          `json:"shares"`
	LimitPrice     string          `json:"limit_price,omitempty"`
	StopPrice      string          `json:"stop_price,omitempty"`
	MarketPrice    decimal.Decimal `gorm:"type:text" json:"market_price"`
	EstimatedTotal decimal.Decimal `gorm:"type:text" json:"estimated_total"`
	CreatedAt      time.Time       `json:"created_at"`
}
