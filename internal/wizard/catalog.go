package wizard

import "github.com/ksred/orderpad/internal/types"

// OrderTypeInfo describes one entry on the order types screen
type OrderTypeInfo struct {
	Kind        types.OrderKind `json:"kind"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Example     string          `json:"example"`
}

// Catalog is the picker content in display order
var Catalog = []OrderTypeInfo{
	{
		Kind:        types.KindMarket,
		Name:        "Market Order",
		Description: "Buy/sell immediately at current price",
		Example:     "AAPL is at $175. Your market order buys instantly at the best available price (may be slightly different due to market movement).",
	},
	{
		Kind:        types.KindLimit,
		Name:        "Limit Order",
		Description: "Set specific price you're willing to pay",
		Example:     "AAPL is at $175, but you only want to buy at $170 or lower. Your order waits until the price reaches $170 or less.",
	},
	{
		Kind:        types.KindStopLoss,
		Name:        "Stop Loss",
		Description: "Auto-sell if price drops below point",
		Example:     "You own AAPL at $175. You set a stop loss at $165. If the price drops to $165, your shares automatically sell to prevent further losses.",
	},
	{
		Kind:        types.KindStopLimit,
		Name:        "Stop Limit",
		Description: "Combines stop and limit for control",
		Example:     "Advanced order: triggers a limit order when stop price is reached. Gives you price control but execution is not guaranteed.",
	},
}
