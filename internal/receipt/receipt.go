package receipt

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ksred/orderpad/internal/ticket"
	"github.com/ksred/orderpad/internal/types"
)

const (
	referencePrefix  = "ORD"
	maxIssueAttempts = 5
)

var (
	ErrReceiptNotFound    = errors.New("receipt not found")
	ErrReferenceExhausted = errors.New("could not generate a free order reference")
)

// Generator builds order references of the form ORD-<year>-<six digits>.
// References are cosmetic and may repeat.
type Generator struct {
	now func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator creates a generator. Nil arguments fall back to the wall
// clock and a time-seeded source.
func NewGenerator(now func() time.Time, rng *rand.Rand) *Generator {
	if now == nil {
		now = time.Now
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Generator{now: now, rng: rng}
}

// Reference returns a new order reference
func (g *Generator) Reference() string {
	g.mu.Lock()
	n := g.rng.Intn(900000) + 100000
	g.mu.Unlock()
	return fmt.Sprintf("%s-%d-%06d", referencePrefix, g.now().Year(), n)
}

// Service issues and looks up order receipts
type Service struct {
	db        *Database
	generator *Generator
}

// NewService creates a receipt service on top of the given database
func NewService(gormDB *gorm.DB, generator *Generator) *Service {
	return &Service{
		db:        NewDatabase(gormDB),
		generator: generator,
	}
}

// Issue stores a receipt for a confirmed draft. A reference that is already
// taken is regenerated a bounded number of times; the unique index on
// reference_id decides, so concurrent confirms drawing the same reference
// retry instead of failing.
func (s *Service) Issue(ctx context.Context, sessionID, symbol string, draft types.Draft, marketPrice float64) (*types.Receipt, error) {
	logger := log.With().
		Str("component", "receipt").
		Str("session_id", sessionID).
		Str("order_kind", string(draft.Kind)).
		Logger()

	for attempt := 1; attempt <= maxIssueAttempts; attempt++ {
		receipt := &types.Receipt{
			ReferenceID:    s.generator.Reference(),
			SessionID:      sessionID,
			Symbol:         symbol,
			Kind:           draft.Kind,
			Shares:         draft.Shares,
			LimitPrice:     draft.LimitPrice,
			StopPrice:      draft.StopPrice,
			MarketPrice:    decimal.NewFromFloat(marketPrice),
			EstimatedTotal: ticket.EstimatedTotal(draft, marketPrice),
			CreatedAt:      time.Now(),
		}

		err := s.db.CreateReceipt(ctx, receipt)
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			logger.Debug().Str("reference_id", receipt.ReferenceID).Int("attempt", attempt).Msg("reference already issued, regenerating")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to store receipt: %w", err)
		}

		logger.Info().
			Str("reference_id", receipt.ReferenceID).
			Str("estimated_total", receipt.EstimatedTotal.StringFixed(2)).
			Msg("order receipt issued")
		return receipt, nil
	}

	logger.Error().Int("attempts", maxIssueAttempts).Msg("no free order reference")
	return nil, ErrReferenceExhausted
}

// Get returns a receipt only to the session that confirmed it
func (s *Service) Get(ctx context.Context, sessionID, referenceID string) (*types.Receipt, error) {
	receipt, err := s.db.GetReceipt(ctx, referenceID)
	if err != nil {
		return nil, err
	}
	if receipt == nil || receipt.SessionID != sessionID {
		return nil, ErrReceiptNotFound
	}
	return receipt, nil
}

// List returns every receipt issued to a session, oldest first
func (s *Service) List(ctx context.Context, sessionID string) ([]types.Receipt, error) {
	return s.db.ListSessionReceipts(ctx, sessionID)
}
