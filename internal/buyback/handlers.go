package buyback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-buyback/internal/catalog"
	"github.com/noah-isme/backend-buyback/internal/common"
	"github.com/noah-isme/backend-buyback/internal/currency"
	"github.com/noah-isme/backend-buyback/internal/market"
	"github.com/noah-isme/backend-buyback/internal/pricing"
	"github.com/noah-isme/backend-buyback/internal/session"
)

// RevisionHeader carries the list revision a client last rendered.
const RevisionHeader = "X-Buyback-Revision"

// Catalog supplies products for the add endpoint and the product listing.
type Catalog interface {
	Products(ctx context.Context, market string) ([]pricing.Product, error)
	Product(ctx context.Context, market, id string) (pricing.Product, error)
}

// Handler exposes buyback list endpoints.
type Handler struct {
	manager  *Manager
	catalog  Catalog
	validate *validator.Validate
	logger   zerolog.Logger
}

// HandlerConfig groups Handler dependencies.
type HandlerConfig struct {
	Manager *Manager
	Catalog Catalog
	Logger  zerolog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		manager:  cfg.Manager,
		catalog:  cfg.Catalog,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   cfg.Logger,
	}
}

// Routes mounts the endpoints. write wraps the add endpoint, typically with
// idempotency and rate limiting.
func (h *Handler) Routes(r chi.Router, write func(http.Handler) http.Handler) {
	if write == nil {
		write = func(next http.Handler) http.Handler { return next }
	}
	r.Get("/markets", h.Markets)
	r.Get("/products", h.Products)
	r.Route("/buyback", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Delete("/", h.Clear)
		r.Post("/reload", h.Reload)
		r.With(write).Post("/items", h.AddItem)
		r.Patch("/items/{itemId}", h.UpdateItem)
		r.Delete("/items/{itemId}", h.RemoveItem)
	})
}

type addItemRequest struct {
	ProductID string `json:"productId" validate:"required,max=128"`
	Condition string `json:"condition" validate:"required,max=32"`
	Quantity  *int   `json:"quantity" validate:"omitempty,max=1000"`
}

type updateItemRequest struct {
	Condition *string `json:"condition" validate:"required_without=Quantity,omitempty,max=32"`
	Quantity  *int    `json:"quantity" validate:"required_without=Condition,omitempty,max=1000"`
}

// Markets lists the supported currency policies.
func (h *Handler) Markets(w http.ResponseWriter, r *http.Request) {
	common.Data(w, http.StatusOK, h.manager.Policies().Policies())
}

// Products lists the request market's catalog with per-condition offers.
func (h *Handler) Products(w http.ResponseWriter, r *http.Request) {
	policy, err := h.policy(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	products, err := h.catalog.Products(r.Context(), policy.Market)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]ProductView, 0, len(products))
	for _, p := range products {
		v, err := productView(p, policy, true)
		if err != nil {
			h.writeError(w, err)
			return
		}
		out = append(out, v)
	}
	common.Data(w, http.StatusOK, out)
}

// Get returns the session's list and offer.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	h.view(w, r, http.StatusOK, func(*Store) (string, error) { return "", nil })
}

// Reload returns the persisted list so a client holding a stale copy can adopt it.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	h.view(w, r, http.StatusOK, func(s *Store) (string, error) {
		s.Reload(r.Context())
		return "", nil
	})
}

// AddItem appends a product line.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	condition, err := pricing.ParseCondition(req.Condition)
	if err != nil {
		h.writeError(w, err)
		return
	}
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}
	policy, err := h.policy(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	product, err := h.catalog.Product(r.Context(), policy.Market, strings.TrimSpace(req.ProductID))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.mutate(w, r, http.StatusCreated, func(s *Store) (string, error) {
		return s.AddItem(r.Context(), product, condition, quantity)
	})
}

// UpdateItem changes the condition and/or quantity of a line.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var req updateItemRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	var condition *pricing.Condition
	if req.Condition != nil {
		c, err := pricing.ParseCondition(*req.Condition)
		if err != nil {
			h.writeError(w, err)
			return
		}
		condition = &c
	}
	id := chi.URLParam(r, "itemId")
	h.mutate(w, r, http.StatusOK, func(s *Store) (string, error) {
		if err := s.UpdateItem(r.Context(), id, condition, req.Quantity); err != nil {
			return "", err
		}
		return id, nil
	})
}

// RemoveItem deletes a line. Unknown ids succeed without changes.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "itemId")
	h.mutate(w, r, http.StatusOK, func(s *Store) (string, error) {
		s.RemoveItem(r.Context(), id)
		return "", nil
	})
}

// Clear empties the list, e.g. after the offer has been submitted.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, http.StatusOK, func(s *Store) (string, error) {
		s.Clear(r.Context())
		return "", nil
	})
}

func (h *Handler) view(w http.ResponseWriter, r *http.Request, status int, fn func(*Store) (string, error)) {
	h.run(w, r, status, h.manager.View, fn)
}

func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, status int, fn func(*Store) (string, error)) {
	h.run(w, r, status, h.manager.Do, fn)
}

type runner func(ctx context.Context, sessionID, market string, fn func(*Store) error) error

func (h *Handler) run(w http.ResponseWriter, r *http.Request, status int, with runner, fn func(*Store) (string, error)) {
	sessionID, _ := session.FromContext(r.Context())
	clientRevision := parseRevision(r.Header.Get(RevisionHeader))
	member := market.IsFamilyMember(r.Context())

	var view ListView
	err := with(r.Context(), sessionID, h.marketCode(r), func(s *Store) error {
		stale := h.manager.CheckRevision(s, clientRevision)
		itemID, err := fn(s)
		if err != nil {
			return err
		}
		if view, err = listView(s, member); err != nil {
			return err
		}
		view.Stale = stale
		view.ItemID = itemID
		return nil
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set(RevisionHeader, strconv.FormatInt(view.Revision, 10))
	common.Data(w, status, view)
}

func (h *Handler) policy(r *http.Request) (currency.Policy, error) {
	return h.manager.Policies().PolicyFor(h.marketCode(r))
}

func (h *Handler) marketCode(r *http.Request) string {
	code, _ := market.FromContext(r.Context())
	return code
}

func (h *Handler) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return common.BadRequest("request body is required", err)
		}
		return common.BadRequest("invalid request body", err)
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[lowerFirst(fe.Field())] = fe.Tag()
			}
			return common.BadRequest("validation failed", err).WithDetails(map[string]any{"fields": fields})
		}
		return common.BadRequest("validation failed", err)
	}
	return nil
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	appErr := mapError(err)
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Msg("buyback request failed")
	}
	common.WriteError(w, appErr)
}

func mapError(err error) *common.AppError {
	if appErr, ok := common.AsAppError(err); ok {
		return appErr
	}
	switch {
	case errors.Is(err, ErrItemNotFound):
		return common.NewAppError("ITEM_NOT_FOUND", "buyback item not found", http.StatusNotFound, err)
	case errors.Is(err, catalog.ErrProductNotFound):
		return common.NewAppError("PRODUCT_NOT_FOUND", "product not found", http.StatusNotFound, err)
	case errors.Is(err, currency.ErrUnknownMarket):
		return common.NewAppError("UNKNOWN_MARKET", "market is not supported", http.StatusBadRequest, err)
	case errors.Is(err, ErrNoSession):
		return common.BadRequest("session is required", err)
	case errors.Is(err, ErrInvalidItemState):
		return common.NewAppError("INVALID_ITEM_STATE", err.Error(), http.StatusUnprocessableEntity, err)
	default:
		return common.NewAppError(common.CodeInternal, "internal server error", http.StatusInternalServerError, fmt.Errorf("buyback: %w", err))
	}
}

func parseRevision(raw string) int64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return -1
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return -1
	}
	return n
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
