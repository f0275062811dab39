// Package wizard owns the order-entry screen flow for one session:
// entry, order types, review and confirmation.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ksred/orderpad/internal/pricefeed"
	"github.com/ksred/orderpad/internal/ticket"
	"github.com/ksred/orderpad/internal/types"
)

// Screen is the wizard step currently shown
type Screen string

const (
	ScreenEntry        Screen = "entry"
	ScreenOrderTypes   Screen = "order_types"
	ScreenReview       Screen = "review"
	ScreenConfirmation Screen = "confirmation"
)

var (
	ErrInvalidTransition = errors.New("operation not allowed on this screen")
	ErrNotReady          = errors.New("order is incomplete")
	ErrUnknownKind       = errors.New("unknown order kind")
)

// ReceiptIssuer stores a confirmed order and hands back its receipt
type ReceiptIssuer interface {
	Issue(ctx context.Context, sessionID, symbol string, draft types.Draft, marketPrice float64) (*types.Receipt, error)
}

// DraftUpdate carries the fields a user edited. Nil fields are left alone;
// an empty string clears a field.
type DraftUpdate struct {
	Shares     *string `json:"shares"`
	LimitPrice *string `json:"limit_price"`
	StopPrice  *string `json:"stop_price"`
}

// ReviewSummary is what the review screen shows
type ReviewSummary struct {
	Symbol         string          `json:"symbol"`
	Kind           types.OrderKind `json:"order_kind"`
	Shares         string          `json:"shares"`
	LimitPrice     string          `json:"limit_price,omitempty"`
	StopPrice      string          `json:"stop_price,omitempty"`
	MarketPrice    decimal.Decimal `json:"market_price"`
	EstimatedTotal decimal.Decimal `json:"estimated_total"`
	Disclaimer     string          `json:"disclaimer"`
}

// View is a read-only snapshot of a session for rendering
type View struct {
	SessionID  string          `json:"session_id"`
	Screen     Screen          `json:"screen"`
	Quote      pricefeed.Quote `json:"quote"`
	Draft      types.Draft     `json:"draft"`
	Completion int             `json:"completion"`
	Status     string          `json:"status"`
	BarColor   string          `json:"bar_color"`
	Ready      bool            `json:"ready"`
	Missing    []types.Field   `json:"missing_fields"`
	OrderTypes []OrderTypeInfo `json:"order_types,omitempty"`
	Expanded   types.OrderKind `json:"expanded,omitempty"`
	Review     *ReviewSummary  `json:"review,omitempty"`
	Receipt    *types.Receipt  `json:"receipt,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Session is one user's pass through the wizard. It holds the only mutable
// draft for that user; all methods are safe for concurrent use.
type Session struct {
	ID string

	mu        sync.Mutex
	screen    Screen
	draft     types.Draft
	expanded  types.OrderKind
	receipt   *types.Receipt
	updatedAt time.Time
}

// NewSession starts a session on the entry screen with an empty draft
func NewSession(id string) *Session {
	return &Session{
		ID:        id,
		screen:    ScreenEntry,
		updatedAt: time.Now(),
	}
}

// Screen returns the current step
func (s *Session) Screen() Screen {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screen
}

// Draft returns a copy of the current draft
func (s *Session) Draft() types.Draft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// UpdateDraft applies field edits on the entry screen
func (s *Session) UpdateDraft(u DraftUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require(ScreenEntry); err != nil {
		return err
	}

	if u.Shares != nil {
		s.draft.Shares = *u.Shares
	}
	if u.LimitPrice != nil {
		s.draft.LimitPrice = *u.LimitPrice
	}
	if u.StopPrice != nil {
		s.draft.StopPrice = *u.StopPrice
	}
	s.touch()
	return nil
}

// OpenOrderTypes moves from entry to the order types picker
func (s *Session) OpenOrderTypes() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require(ScreenEntry); err != nil {
		return err
	}
	s.screen = ScreenOrderTypes
	s.touch()
	return nil
}

// ToggleExpanded expands the picker entry for kind, or collapses it when it
// is already expanded
func (s *Session) ToggleExpanded(kind types.OrderKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require(ScreenOrderTypes); err != nil {
		return err
	}
	if !validKind(kind) {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	if s.expanded == kind {
		s.expanded = types.KindUnset
	} else {
		s.expanded = kind
	}
	s.touch()
	return nil
}

// SelectKind picks an order kind and returns to the entry screen. Price
// fields already typed are kept; the new kind decides which ones count.
func (s *Session) SelectKind(kind types.OrderKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require(ScreenOrderTypes); err != nil {
		return err
	}
	if !validKind(kind) {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	s.draft.Kind = kind
	s.expanded = types.KindUnset
	s.screen = ScreenEntry
	s.touch()
	return nil
}

// Back returns to the entry screen from the picker or the review screen
func (s *Session) Back() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require(ScreenOrderTypes, ScreenReview); err != nil {
		return err
	}
	s.screen = ScreenEntry
	s.touch()
	return nil
}

// Review moves a complete draft to the review screen
func (s *Session) Review() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require(ScreenEntry); err != nil {
		return err
	}
	if !ticket.IsReady(ticket.Completion(s.draft)) {
		return ErrNotReady
	}
	s.screen = ScreenReview
	s.touch()
	return nil
}

// Confirm submits the reviewed draft to issuer and shows the confirmation
// screen. State is unchanged when the issuer fails.
func (s *Session) Confirm(ctx context.Context, issuer ReceiptIssuer, symbol string, marketPrice float64) (*types.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require(ScreenReview); err != nil {
		return nil, err
	}

	receipt, err := issuer.Issue(ctx, s.ID, symbol, s.draft, marketPrice)
	if err != nil {
		return nil, fmt.Errorf("failed to confirm order: %w", err)
	}

	s.receipt = receipt
	s.screen = ScreenConfirmation
	s.touch()

	log.Info().
		Str("session_id", s.ID).
		Str("reference_id", receipt.ReferenceID).
		Msg("order confirmed")
	return receipt, nil
}

// Reset clears the draft after a confirmation and goes back to trading
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require(ScreenConfirmation); err != nil {
		return err
	}
	s.draft = types.Draft{}
	s.expanded = types.KindUnset
	s.receipt = nil
	s.screen = ScreenEntry
	s.touch()
	return nil
}

// View renders the session against the latest quote
func (s *Session) View(quote pricefeed.Quote) View {
	s.mu.Lock()
	defer s.mu.Unlock()

	score := ticket.Completion(s.draft)
	v := View{
		SessionID:  s.ID,
		Screen:     s.screen,
		Quote:      quote,
		Draft:      s.draft,
		Completion: score,
		Status:     ticket.StatusLabel(score),
		BarColor:   ticket.BarColor(score),
		Ready:      ticket.IsReady(score),
		Missing:    ticket.MissingFields(s.draft),
		UpdatedAt:  s.updatedAt,
	}

	switch s.screen {
	case ScreenOrderTypes:
		v.OrderTypes = Catalog
		v.Expanded = s.expanded
	case ScreenReview:
		summary := summarize(s.draft, quote)
		v.Review = &summary
	case ScreenConfirmation:
		v.Receipt = s.receipt
	}
	return v
}

// UpdatedAt is the time of the last state change
func (s *Session) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

func summarize(d types.Draft, quote pricefeed.Quote) ReviewSummary {
	return ReviewSummary{
		Symbol:         quote.Symbol,
		Kind:           d.Kind,
		Shares:         d.Shares,
		LimitPrice:     d.LimitPrice,
		StopPrice:      d.StopPrice,
		MarketPrice:    decimal.NewFromFloat(quote.Price),
		EstimatedTotal: ticket.EstimatedTotal(d, quote.Price),
		Disclaimer:     ticket.Disclaimer(d),
	}
}

func (s *Session) require(allowed ...Screen) error {
	for _, screen := range allowed {
		if s.screen == screen {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidTransition, s.screen)
}

func (s *Session) touch() {
	s.updatedAt = time.Now()
}

func validKind(kind types.OrderKind) bool {
	_, ok := ticket.Requirements[kind]
	return ok
}
