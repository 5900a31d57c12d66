/*
handlers.go - HTTP API handlers for the points ledger

PURPOSE:
  Exposes the ledger engine and catalog via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to points.Engine.

ENDPOINTS:
  Account:
    GET    /api/me                           Balance
    GET    /api/me/products                  Owned products
    PUT    /api/me/products/{id}/binding     Set server binding
    GET    /api/me/history                   Top-ups and purchases, newest first
    GET    /api/me/entries?limit=N           Journal entries

  Catalog:
    GET    /api/products                     List products
    GET    /api/products/{id}                Get product
    POST   /api/admin/products               Create product
    PUT    /api/admin/products/{id}          Update product

  Points:
    POST   /api/purchases                    Purchase a product
    POST   /api/topups                       Submit a top-up request
    GET    /api/admin/topups?status=&user_id= List top-up requests
    POST   /api/admin/topups/{id}/approve    Approve
    POST   /api/admin/topups/{id}/reject     Reject

REQUEST FLOW:
  1. Principal from the auth middleware
  2. Parse path and body
  3. Call the engine
  4. Serialize response, or map the error (errors.go)

SEE ALSO:
  - tickets.go: ticket endpoints
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/warp/points-engine/points"
	"github.com/warp/points-engine/ticket"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine  *points.Engine
	Catalog *points.Catalog
	Tickets *ticket.Service
	Logger  logrus.FieldLogger

	// Ping reports store health for /api/health. Optional.
	Ping func(ctx context.Context) error
}

// NewHandler wires the handler. A nil logger uses the logrus standard logger.
func NewHandler(engine *points.Engine, catalog *points.Catalog, tickets *ticket.Service, logger logrus.FieldLogger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{Engine: engine, Catalog: catalog, Tickets: tickets, Logger: logger}
}

// principal returns the caller. The auth middleware guarantees it on every
// route that uses this.
func (h *Handler) principal(w http.ResponseWriter, r *http.Request) (points.Principal, bool) {
	p, ok := PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "authentication required")
	}
	return p, ok
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "Invalid request body")
		return false
	}
	return true
}

func int64Param(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || v <= 0 {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "Invalid "+name)
		return 0, false
	}
	return v, true
}

// Health returns 200 when the store answers, 503 otherwise.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Ping != nil {
		if err := h.Ping(r.Context()); err != nil {
			h.Logger.WithError(err).Warn("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// GetMe returns the caller's account and balance.
// GET /api/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	who, ok := h.principal(w, r)
	if !ok {
		return
	}
	acct, err := h.Engine.Balance(r.Context(), who)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acct))
}

// ListOwnedProducts returns the caller's purchases.
// GET /api/me/products
func (h *Handler) ListOwnedProducts(w http.ResponseWriter, r *http.Request) {
	who, ok := h.principal(w, r)
	if !ok {
		return
	}
	owned, err := h.Engine.OwnedProducts(r.Context(), who)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dtos := make([]OwnedProductDTO, len(owned))
	for i, op := range owned {
		dtos[i] = toOwnedProductDTO(op)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// UpdateServerBinding sets the server address of one owned product.
// PUT /api/me/products/{id}/binding
func (h *Handler) UpdateServerBinding(w http.ResponseWriter, r *http.Request) {
	who, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := int64Param(w, r, "id")
	if !ok {
		return
	}
	var req BindingRequest
	if !decode(w, r, &req) {
		return
	}

	o, err := h.Engine.UpdateServerBinding(r.Context(), who, points.OwnershipID(id), points.ProductID(req.ProductID), req.IPServer)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, OwnershipDTO{
		ID:           int64(o.ID),
		ProductID:    int64(o.ProductID),
		IPServer:     o.ServerBinding,
		LastIPUpdate: formatTimePtr(o.BindingUpdatedAt),
	})
}

// GetHistory returns top-ups and purchases, newest first.
// GET /api/me/history
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	who, ok := h.principal(w, r)
	if !ok {
		return
	}
	items, err := h.Engine.History(r.Context(), who)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dtos := make([]HistoryItemDTO, len(items))
	for i, item := range items {
		dtos[i] = toHistoryDTO(item)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetEntries returns the caller's journal.
// GET /api/me/entries?limit=N
func (h *Handler) GetEntries(w http.ResponseWriter, r *http.Request) {
	who, ok := h.principal(w, r)
	if !ok {
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, codeInvalidRequest, "Invalid limit")
			return
		}
		limit = n
	}

	entries, err := h.Engine.Entries(r.Context(), who, limit)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

// ListProducts returns the catalog.
// GET /api/products
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Catalog.List(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dtos := make([]ProductDTO, len(products))
	for i, p := range products {
		dtos[i] = toProductDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetProduct returns one product.
// GET /api/products/{id}
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(w, r, "id")
	if !ok {
		return
	}
	p, err := h.Catalog.Get(r.Context(), points.ProductID(id))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(*p))
}

// CreateProduct adds a product. Admin only.
// POST /api/admin/products
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	who, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req ProductRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := h.Catalog.Create(r.Context(), who, req.input())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductDTO(*p))
}

// UpdateProduct replaces a product's fields. Admin only.
// PUT /api/admin/products/{id}
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	who, ok := h.principal(w, r)
	if !ok {
		return
	}
	id, ok := int64Param(w, r, "id")
	if !ok {
		return
	}
	var req ProductRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := h.Catalog.Update(r.Context(), who, points.ProductID(id), req.input())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(*p))
}

// =============================================================================
// POINTS HANDLERS
// =============================================================================

// Purchase spends points on a product.
// POST /api/purchases
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	who, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req PurchaseRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.Engine.Purchase(r.Context(), who, points.ProductID(req.ProductID))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, PurchaseResponse{
		NewBalance:  res.NewBalance,
		OwnershipID: int64(res.OwnershipID),
	})
}

// SubmitTopUp records a pending top-up request.
// POST /api/topups
func (h *Handler) SubmitTopUp(w http.ResponseWriter, r *http.Request) {
	who, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req TopUpSubmitRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := h.Engine.SubmitTopUp(r.Context(), who, req.submission())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, TopUpSubmitResponse{RequestID: string(id)})
}

// ListTopUps returns top-up requests, newest first. Admin only.
// GET /api/admin/topups?status=pending&user_id=...
func (h *Handler) ListTopUps(w http.ResponseWriter, r *http.Request) {
	who, ok := h.principal(w, r)
	if !ok {
		return
	}
	var filter points.TopUpFilter
	q := r.URL.Query()
	if v := q.Get("status"); v != "" {
		status := points.TopUpStatus(v)
		filter.Status = &status
	}
	if v := q.Get("user_id"); v != "" {
		user := points.AccountID(v)
		filter.UserID = &user
	}

	list, err := h.Engine.ListTopUps(r.Context(), who, filter)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dtos := make([]TopUpDTO, len(list))
	for i, t := range list {
		dtos[i] = toTopUpDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ApproveTopUp credits the request's points. Admin only.
// POST /api/admin/topups/{id}/approve
func (h *Handler) ApproveTopUp(w http.ResponseWriter, r *http.Request) {
	h.resolveTopUp(w, r, h.Engine.ApproveTopUp)
}

// RejectTopUp closes the request without crediting. Admin only.
// POST /api/admin/topups/{id}/reject
func (h *Handler) RejectTopUp(w http.ResponseWriter, r *http.Request) {
	h.resolveTopUp(w, r, h.Engine.RejectTopUp)
}

type resolveFunc func(ctx context.Context, admin points.Principal, id points.TopUpID) (*points.TopUpRequest, error)

func (h *Handler) resolveTopUp(w http.ResponseWriter, r *http.Request, resolve resolveFunc) {
	who, ok := h.principal(w, r)
	if !ok {
		return
	}
	req, err := resolve(r.Context(), who, points.TopUpID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTopUpDTO(*req))
}
