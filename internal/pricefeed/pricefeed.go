package pricefeed

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// TickSource produces the next simulated price each time the feed ticks
type TickSource interface {
	NextPrice() float64
}

// RandomWalk moves a price by a uniform random delta in [-MaxDelta, +MaxDelta)
// on every call
type RandomWalk struct {
	price    float64
	maxDelta float64
	rng      *rand.Rand
}

// NewRandomWalk creates a random walk starting at start. A nil rng seeds a
// new generator from the clock.
func NewRandomWalk(start, maxDelta float64, rng *rand.Rand) *RandomWalk {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &RandomWalk{
		price:    start,
		maxDelta: maxDelta,
		rng:      rng,
	}
}

// NextPrice applies one random step and returns the new price
func (w *RandomWalk) NextPrice() float64 {
	w.price += (w.rng.Float64() - 0.5) * 2 * w.maxDelta
	return w.price
}

// Sequence replays a fixed list of prices, repeating the last one once
// exhausted
type Sequence struct {
	prices []float64
	next   int
}

// NewSequence creates a deterministic tick source
func NewSequence(prices ...float64) *Sequence {
	return &Sequence{prices: prices}
}

// NextPrice returns the next price in the sequence
func (s *Sequence) NextPrice() float64 {
	if len(s.prices) == 0 {
		return 0
	}
	if s.next >= len(s.prices) {
		return s.prices[len(s.prices)-1]
	}
	p := s.prices[s.next]
	s.next++
	return p
}

// Quote is a point-in-time view of the feed
type Quote struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	Open          float64   `json:"open"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
	Ticks         int       `json:"ticks"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Feed holds the live simulated price for one symbol
type Feed struct {
	symbol   string
	source   TickSource
	interval time.Duration
	now      func() time.Time

	mu        sync.RWMutex
	open      float64
	price     float64
	ticks     int
	updatedAt time.Time
}

// NewFeed creates a feed quoting start until the first tick arrives
func NewFeed(symbol string, start float64, source TickSource, interval time.Duration) *Feed {
	f := &Feed{
		symbol:   symbol,
		source:   source,
		interval: interval,
		now:      time.Now,
		open:     start,
		price:    start,
	}
	f.updatedAt = f.now()
	return f
}

// Start ticks the feed on its interval until ctx is cancelled. The ticker is
// released on return.
func (f *Feed) Start(ctx context.Context) {
	logger := log.With().Str("component", "price_feed").Str("symbol", f.symbol).Logger()
	logger.Info().Dur("interval", f.interval).Float64("open", f.open).Msg("starting price feed")

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down price feed")
			return
		case <-ticker.C:
			price := f.Tick()
			logger.Debug().Float64("price", price).Msg("price tick")
		}
	}
}

// Tick advances the feed by one step and returns the new price
func (f *Feed) Tick() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.price = f.source.NextPrice()
	f.ticks++
	f.updatedAt = f.now()
	return f.price
}

// Price returns the latest price
func (f *Feed) Price() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.price
}

// Symbol returns the quoted symbol
func (f *Feed) Symbol() string {
	return f.symbol
}

// Quote returns the latest price with its change since the feed opened
func (f *Feed) Quote() Quote {
	f.mu.RLock()
	defer f.mu.RUnlock()

	q := Quote{
		Symbol:    f.symbol,
		Price:     f.price,
		Open:      f.open,
		Change:    f.price - f.open,
		Ticks:     f.ticks,
		UpdatedAt: f.updatedAt,
	}
	if f.open != 0 {
		q.ChangePercent = q.Change / f.open * 100
	}
	return q
}
