package session

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ksred/orderpad/internal/pricefeed"
	"github.com/ksred/orderpad/internal/receipt"
	"github.com/ksred/orderpad/internal/types"
	"github.com/ksred/orderpad/internal/wizard"
	"github.com/ksred/orderpad/pkg/middleware"
	"github.com/ksred/orderpad/pkg/response"
)

// QuoteSource supplies the live price shown on every screen
type QuoteSource interface {
	Quote() pricefeed.Quote
}

// ReceiptStore issues receipts on confirmation and serves them back
type ReceiptStore interface {
	wizard.ReceiptIssuer
	Get(ctx context.Context, sessionID, referenceID string) (*types.Receipt, error)
	List(ctx context.Context, sessionID string) ([]types.Receipt, error)
}

// CreateSessionResponse is returned when a session starts
type CreateSessionResponse struct {
	*TokenResponse
	Ticket wizard.View `json:"ticket"`
}

// GinHandlers contains HTTP handlers for the order-entry wizard
type GinHandlers struct {
	service  *Service
	quotes   QuoteSource
	receipts ReceiptStore
	limit    gin.HandlerFunc
}

// NewGinHandlers creates a new set of HTTP handlers for wizard endpoints
func NewGinHandlers(service *Service, quotes QuoteSource, receipts ReceiptStore) *GinHandlers {
	return &GinHandlers{
		service:  service,
		quotes:   quotes,
		receipts: receipts,
		limit:    func(c *gin.Context) { c.Next() },
	}
}

// WithRateLimit budgets every route. Ticket and receipt routes apply it
// after SessionAuth so each session gets its own bucket.
func (h *GinHandlers) WithRateLimit(limit gin.HandlerFunc) *GinHandlers {
	h.limit = limit
	return h
}

// Register mounts the wizard routes on an /api/v1 group
func (h *GinHandlers) Register(v1 *gin.RouterGroup) {
	v1.POST("/sessions", h.limit, h.CreateSessionHandler())
	v1.GET("/quote", h.limit, h.QuoteHandler())

	ticket := v1.Group("/ticket")
	ticket.Use(middleware.SessionAuth(h.service), h.limit)
	{
		ticket.GET("", h.GetTicketHandler())
		ticket.PATCH("/draft", h.UpdateDraftHandler())
		ticket.POST("/order-types", h.OpenOrderTypesHandler())
		ticket.POST("/order-types/:kind/expand", h.ExpandOrderTypeHandler())
		ticket.POST("/order-types/:kind/select", h.SelectOrderTypeHandler())
		ticket.POST("/back", h.BackHandler())
		ticket.POST("/review", h.ReviewHandler())
		ticket.POST("/confirm", h.ConfirmHandler())
		ticket.POST("/reset", h.ResetHandler())
	}

	receipts := v1.Group("/receipts")
	receipts.Use(middleware.SessionAuth(h.service), h.limit)
	{
		receipts.GET("", h.ListReceiptsHandler())
		receipts.GET("/:reference", h.GetReceiptHandler())
	}
}

// CreateSessionHandler handles POST requests that start a wizard session
func (h *GinHandlers) CreateSessionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, sess, err := h.service.Create()
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}

		response.Success(c, CreateSessionResponse{
			TokenResponse: token,
			Ticket:        sess.View(h.quotes.Quote()),
		})
	}
}

// QuoteHandler returns the live simulated price
func (h *GinHandlers) QuoteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, h.quotes.Quote())
	}
}

// GetTicketHandler renders the caller's current screen
func (h *GinHandlers) GetTicketHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := h.session(c)
		if !ok {
			return
		}
		response.Success(c, sess.View(h.quotes.Quote()))
	}
}

// UpdateDraftHandler handles PATCH requests editing shares and prices
// Request body: {"shares": "10", "limit_price": "170", "stop_price": "165"}
func (h *GinHandlers) UpdateDraftHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var update wizard.DraftUpdate
		if err := c.ShouldBindJSON(&update); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		h.transition(c, func(sess *wizard.Session) error {
			return sess.UpdateDraft(update)
		})
	}
}

// OpenOrderTypesHandler moves to the order types picker
func (h *GinHandlers) OpenOrderTypesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.transition(c, (*wizard.Session).OpenOrderTypes)
	}
}

// ExpandOrderTypeHandler toggles the details of one order type
// URL parameter: kind
func (h *GinHandlers) ExpandOrderTypeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		kind, ok := parseKind(c)
		if !ok {
			return
		}
		h.transition(c, func(sess *wizard.Session) error {
			return sess.ToggleExpanded(kind)
		})
	}
}

// SelectOrderTypeHandler picks an order type and returns to entry
// URL parameter: kind
func (h *GinHandlers) SelectOrderTypeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		kind, ok := parseKind(c)
		if !ok {
			return
		}
		h.transition(c, func(sess *wizard.Session) error {
			return sess.SelectKind(kind)
		})
	}
}

// BackHandler navigates back to the entry screen
func (h *GinHandlers) BackHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.transition(c, (*wizard.Session).Back)
	}
}

// ReviewHandler moves a complete draft to review. An incomplete draft gets
// 422 with the current view so the client can point at missing fields.
func (h *GinHandlers) ReviewHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.transition(c, (*wizard.Session).Review)
	}
}

// ConfirmHandler submits the reviewed order and issues its receipt
func (h *GinHandlers) ConfirmHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		quote := h.quotes.Quote()
		h.transition(c, func(sess *wizard.Session) error {
			_, err := sess.Confirm(c.Request.Context(), h.receipts, quote.Symbol, quote.Price)
			return err
		})
	}
}

// ResetHandler returns to trading with an empty draft
func (h *GinHandlers) ResetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.transition(c, (*wizard.Session).Reset)
	}
}

// GetReceiptHandler returns one of the caller's receipts
// URL parameter: reference
func (h *GinHandlers) GetReceiptHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.GetString(middleware.SessionIDKey)
		rec, err := h.receipts.Get(c.Request.Context(), sessionID, c.Param("reference"))
		if err != nil {
			h.writeError(c, nil, err)
			return
		}
		response.Success(c, rec)
	}
}

// ListReceiptsHandler returns every receipt issued to the caller
func (h *GinHandlers) ListReceiptsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.GetString(middleware.SessionIDKey)
		recs, err := h.receipts.List(c.Request.Context(), sessionID)
		if err != nil {
			h.writeError(c, nil, err)
			return
		}
		response.Success(c, recs)
	}
}

// transition runs a wizard operation and answers with the resulting view
func (h *GinHandlers) transition(c *gin.Context, op func(*wizard.Session) error) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	if err := op(sess); err != nil {
		h.writeError(c, sess, err)
		return
	}
	response.OK(c, sess.View(h.quotes.Quote()))
}

func (h *GinHandlers) session(c *gin.Context) (*wizard.Session, bool) {
	sess, err := h.service.Get(c.GetString(middleware.SessionIDKey))
	if err != nil {
		h.writeError(c, nil, err)
		return nil, false
	}
	return sess, true
}

func (h *GinHandlers) writeError(c *gin.Context, sess *wizard.Session, err error) {
	switch {
	case errors.Is(err, wizard.ErrNotReady):
		var view interface{}
		if sess != nil {
			view = sess.View(h.quotes.Quote())
		}
		response.ValidationFailed(c, err.Error(), view)
	case errors.Is(err, wizard.ErrInvalidTransition):
		response.InvalidTransition(c, err.Error())
	case errors.Is(err, wizard.ErrUnknownKind):
		response.BadRequest(c, err.Error())
	case errors.Is(err, ErrSessionNotFound):
		response.NotFound(c, "Session not found")
	case errors.Is(err, receipt.ErrReceiptNotFound):
		response.NotFound(c, "Receipt not found")
	case errors.Is(err, receipt.ErrReferenceExhausted):
		response.Conflict(c, "Could not allocate an order reference, please confirm again")
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		response.Handle(c, nil, err)
	}
}

func parseKind(c *gin.Context) (types.OrderKind, bool) {
	kind, ok := types.ParseOrderKind(c.Param("kind"))
	if !ok {
		response.BadRequest(c, "Unknown order type")
		return types.KindUnset, false
	}
	return kind, true
}
