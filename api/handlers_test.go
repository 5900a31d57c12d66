/*
handlers_test.go - HTTP tests for the API

Tests for:
- Authentication (missing, bad, forged-role tokens; first-login account)
- Purchase and top-up flows end to end through the router
- Error mapping (status, code, details)
- Ticket endpoints and visibility
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/points-engine/cache"
	"github.com/warp/points-engine/points"
	"github.com/warp/points-engine/store/memory"
	"github.com/warp/points-engine/ticket"
)

var testSecret = []byte("test-secret")

type testServer struct {
	t      *testing.T
	store  *memory.Store
	auth   *Authenticator
	router http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger, _ := test.NewNullLogger()
	store := memory.New()
	c := cache.NewMemory(time.Minute)
	t.Cleanup(func() { c.Close() })

	engine := points.NewEngine(store, logger)
	h := NewHandler(engine, points.NewCatalog(store, c, logger), ticket.NewService(store, logger), logger)
	auth := &Authenticator{Secret: testSecret, Issuer: "points-test", Accounts: engine}

	return &testServer{t: t, store: store, auth: auth, router: NewRouter(h, auth, nil)}
}

func (s *testServer) token(id string) string {
	s.t.Helper()
	tok, err := s.auth.IssueToken(points.Profile{ID: points.AccountID(id), Name: id, Email: id + "@example.com"}, time.Hour, time.Now())
	require.NoError(s.t, err)
	return tok
}

// seed creates an account directly in the store.
func (s *testServer) seed(id string, balance int64, role points.Role) string {
	s.t.Helper()
	_, err := s.store.EnsureAccount(context.Background(), points.Account{ID: points.AccountID(id), Points: balance, Role: role, CreatedAt: time.Now()})
	require.NoError(s.t, err)
	return s.token(id)
}

func (s *testServer) product(title string, price int64) int64 {
	s.t.Helper()
	now := time.Now()
	p := points.Product{Title: title, PointsPrice: price, CreatedAt: now, UpdatedAt: now}
	require.NoError(s.t, s.store.CreateProduct(context.Background(), &p))
	return int64(p.ID)
}

func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func validTopUp(pts int64) map[string]any {
	return map[string]any{
		"amount":           "150.00",
		"points":           pts,
		"payment_method":   "bank_transfer",
		"transaction_date": "2025-03-01T10:00:00Z",
		"proof_reference":  "slips/abc.png",
	}
}

// =============================================================================
// AUTH
// =============================================================================

func TestHealth_NoAuth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuth_Rejections(t *testing.T) {
	s := newTestServer(t)

	other := &Authenticator{Secret: []byte("other-secret"), Issuer: "points-test"}
	forged, err := other.IssueToken(points.Profile{ID: "user-1"}, time.Hour, time.Now())
	require.NoError(t, err)

	expired, err := s.auth.IssueToken(points.Profile{ID: "user-1"}, time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	wrongIssuer, err := (&Authenticator{Secret: testSecret, Issuer: "elsewhere"}).IssueToken(points.Profile{ID: "user-1"}, time.Hour, time.Now())
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"garbage", "not-a-jwt"},
		{"wrong secret", forged},
		{"expired", expired},
		{"wrong issuer", wrongIssuer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodGet, "/api/me", tt.token, nil)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, codeUnauthorized, decodeBody[ErrorResponse](t, rec).Code)
		})
	}
}

func TestAuth_FirstLoginCreatesAccount(t *testing.T) {
	// GIVEN: a valid token for an account that does not exist yet
	s := newTestServer(t)

	// WHEN: calling /api/me
	rec := s.do(http.MethodGet, "/api/me", s.token("new-user"), nil)

	// THEN: the account exists with zero points and the user role
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	me := decodeBody[AccountDTO](t, rec)
	assert.Equal(t, "new-user", me.ID)
	assert.Equal(t, "new-user@example.com", me.Email)
	assert.Equal(t, int64(0), me.Points)
	assert.Equal(t, "user", me.Role)
}

func TestAuth_RoleClaimIgnored(t *testing.T) {
	// GIVEN: a correctly signed token that claims the admin role
	s := newTestServer(t)
	s.seed("user-1", 0, points.RoleUser)
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "user-1",
		"iss":  "points-test",
		"role": "admin",
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString(testSecret)
	require.NoError(t, err)

	// WHEN: calling an admin route
	rec := s.do(http.MethodGet, "/api/admin/topups", tok, nil)

	// THEN: the stored role wins
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, codeForbidden, decodeBody[ErrorResponse](t, rec).Code)
}

// =============================================================================
// PURCHASE
// =============================================================================

func TestPurchase_Flow(t *testing.T) {
	// GIVEN: balance 500 and a product at 300
	s := newTestServer(t)
	tok := s.seed("user-1", 500, points.RoleUser)
	pid := s.product("Auto Farm", 300)

	// WHEN: buying once
	rec := s.do(http.MethodPost, "/api/purchases", tok, PurchaseRequest{ProductID: pid})

	// THEN: 201 with the new balance
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decodeBody[PurchaseResponse](t, rec)
	assert.Equal(t, int64(200), res.NewBalance)
	assert.NotZero(t, res.OwnershipID)

	// AND: a second purchase is refused with the shortfall
	rec = s.do(http.MethodPost, "/api/purchases", tok, PurchaseRequest{ProductID: pid})
	require.Equal(t, http.StatusConflict, rec.Code)
	var body struct {
		Code    string           `json:"code"`
		Details shortfallDetails `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, codeInsufficientFunds, body.Code)
	assert.Equal(t, shortfallDetails{Balance: 200, Price: 300, Shortfall: 100}, body.Details)

	// AND: the product is listed once with its title
	rec = s.do(http.MethodGet, "/api/me/products", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	owned := decodeBody[[]OwnedProductDTO](t, rec)
	require.Len(t, owned, 1)
	assert.Equal(t, "Auto Farm", owned[0].Title)
	assert.Nil(t, owned[0].IPServer)
}

func TestPurchase_Errors(t *testing.T) {
	s := newTestServer(t)
	tok := s.seed("user-1", 500, points.RoleUser)

	rec := s.do(http.MethodPost, "/api/purchases", tok, PurchaseRequest{ProductID: 999})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, codeNotFound, decodeBody[ErrorResponse](t, rec).Code)

	req := httptest.NewRequest(http.MethodPost, "/api/purchases", bytes.NewBufferString("{"))
	req.Header.Set("Authorization", "Bearer "+tok)
	bad := httptest.NewRecorder()
	s.router.ServeHTTP(bad, req)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
	assert.Equal(t, codeInvalidRequest, decodeBody[ErrorResponse](t, bad).Code)
}

func TestServerBinding(t *testing.T) {
	s := newTestServer(t)
	tok := s.seed("user-1", 500, points.RoleUser)
	pid := s.product("Auto Farm", 100)

	rec := s.do(http.MethodPost, "/api/purchases", tok, PurchaseRequest{ProductID: pid})
	require.Equal(t, http.StatusCreated, rec.Code)
	oid := decodeBody[PurchaseResponse](t, rec).OwnershipID

	path := fmt.Sprintf("/api/me/products/%d/binding", oid)
	rec = s.do(http.MethodPut, path, tok, BindingRequest{ProductID: pid, IPServer: " 10.0.0.7:30120 "})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	o := decodeBody[OwnershipDTO](t, rec)
	require.NotNil(t, o.IPServer)
	assert.Equal(t, "10.0.0.7:30120", *o.IPServer)
	assert.NotNil(t, o.LastIPUpdate)

	// Another user cannot see the record.
	other := s.seed("user-2", 0, points.RoleUser)
	rec = s.do(http.MethodPut, path, other, BindingRequest{ProductID: pid, IPServer: "1.1.1.1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// TOP-UPS
// =============================================================================

func TestTopUp_ApproveFlow(t *testing.T) {
	// GIVEN: a user with a pending top-up
	s := newTestServer(t)
	user := s.seed("user-1", 0, points.RoleUser)
	admin := s.seed("admin-1", 0, points.RoleAdmin)

	rec := s.do(http.MethodPost, "/api/topups", user, validTopUp(150))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decodeBody[TopUpSubmitResponse](t, rec).RequestID
	require.NotEmpty(t, id)

	// WHEN: the admin lists pending requests and approves
	rec = s.do(http.MethodGet, "/api/admin/topups?status=pending", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pending := decodeBody[[]TopUpDTO](t, rec)
	require.Len(t, pending, 1)
	assert.Equal(t, "150.00", pending[0].Amount)

	rec = s.do(http.MethodPost, "/api/admin/topups/"+id+"/approve", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	approved := decodeBody[TopUpDTO](t, rec)
	assert.Equal(t, "approved", approved.Status)
	require.NotNil(t, approved.ResolvedBy)
	assert.Equal(t, "admin-1", *approved.ResolvedBy)

	// THEN: the balance reflects the credit
	rec = s.do(http.MethodGet, "/api/me", user, nil)
	assert.Equal(t, int64(150), decodeBody[AccountDTO](t, rec).Points)

	// AND: a second resolution conflicts
	rec = s.do(http.MethodPost, "/api/admin/topups/"+id+"/reject", admin, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, codeAlreadyResolved, decodeBody[ErrorResponse](t, rec).Code)

	// AND: history shows the approved top-up
	rec = s.do(http.MethodGet, "/api/me/history", user, nil)
	history := decodeBody[[]HistoryItemDTO](t, rec)
	require.Len(t, history, 1)
	assert.Equal(t, "topup", history[0].Type)
	assert.Equal(t, "approved", history[0].Status)

	// AND: the journal has one credit
	rec = s.do(http.MethodGet, "/api/me/entries?limit=10", user, nil)
	entries := decodeBody[[]EntryDTO](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(150), entries[0].Delta)
}

func TestTopUp_Validation(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value any
		field string
	}{
		{"unknown method", "payment_method", "cash", "payment_method"},
		{"sub-cent amount", "amount", "0.001", "amount"},
		{"amount too large", "amount", "1000000000000", "amount"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			user := s.seed("user-1", 0, points.RoleUser)

			body := validTopUp(150)
			body[tt.key] = tt.value
			rec := s.do(http.MethodPost, "/api/topups", user, body)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			var resp struct {
				Code    string       `json:"code"`
				Details fieldDetails `json:"details"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, codeValidation, resp.Code)
			assert.Equal(t, tt.field, resp.Details.Field)
		})
	}
}

func TestTopUp_UserCannotApprove(t *testing.T) {
	s := newTestServer(t)
	user := s.seed("user-1", 0, points.RoleUser)

	rec := s.do(http.MethodPost, "/api/topups", user, validTopUp(50))
	id := decodeBody[TopUpSubmitResponse](t, rec).RequestID

	rec = s.do(http.MethodPost, "/api/admin/topups/"+id+"/approve", user, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodGet, "/api/me", user, nil)
	assert.Equal(t, int64(0), decodeBody[AccountDTO](t, rec).Points)
}

// =============================================================================
// CATALOG
// =============================================================================

func TestCatalog_AdminWrites(t *testing.T) {
	s := newTestServer(t)
	admin := s.seed("admin-1", 0, points.RoleAdmin)
	user := s.seed("user-1", 0, points.RoleUser)

	rec := s.do(http.MethodPost, "/api/admin/products", user, ProductRequest{Title: "X", Points: 10})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, "/api/admin/products", admin, ProductRequest{Title: "Garage Pack", Points: 250})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[ProductDTO](t, rec)

	// Warm the cache, then update and read again.
	rec = s.do(http.MethodGet, "/api/products", user, nil)
	require.Len(t, decodeBody[[]ProductDTO](t, rec), 1)

	rec = s.do(http.MethodPut, fmt.Sprintf("/api/admin/products/%d", created.ID), admin, ProductRequest{Title: "Garage Pack v2", Points: 300})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, fmt.Sprintf("/api/products/%d", created.ID), user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[ProductDTO](t, rec)
	assert.Equal(t, "Garage Pack v2", got.Title)
	assert.Equal(t, int64(300), got.Points)

	rec = s.do(http.MethodGet, "/api/products", user, nil)
	assert.Equal(t, "Garage Pack v2", decodeBody[[]ProductDTO](t, rec)[0].Title)

	rec = s.do(http.MethodGet, "/api/products/abc", user, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// TICKETS
// =============================================================================

func TestTickets_Flow(t *testing.T) {
	s := newTestServer(t)
	user := s.seed("user-1", 0, points.RoleUser)
	other := s.seed("user-2", 0, points.RoleUser)
	admin := s.seed("admin-1", 0, points.RoleAdmin)

	rec := s.do(http.MethodPost, "/api/tickets", user, CreateTicketRequest{
		Title: "Script not loading",
		Files: []FileRequest{{Filename: "log.txt", FileURL: "files/log.txt", FileSize: 120, FileType: "text/plain"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[TicketDetailDTO](t, rec)
	assert.Equal(t, "pending", created.Status)
	assert.Equal(t, "medium", created.Priority)
	require.Len(t, created.Files, 1)

	rec = s.do(http.MethodGet, "/api/tickets/"+created.ID, other, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodPost, "/api/tickets/"+created.ID+"/comments", user, CommentRequest{Comment: "any update?"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.False(t, decodeBody[CommentDTO](t, rec).IsAdmin)

	rec = s.do(http.MethodPut, "/api/admin/tickets/"+created.ID+"/status", user, TicketStatusRequest{Status: "completed"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPut, "/api/admin/tickets/"+created.ID+"/status", admin, TicketStatusRequest{Status: "in_progress", Comment: "looking"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "in_progress", decodeBody[TicketDTO](t, rec).Status)

	rec = s.do(http.MethodGet, "/api/tickets/"+created.ID, user, nil)
	detail := decodeBody[TicketDetailDTO](t, rec)
	require.Len(t, detail.Comments, 2)
	assert.True(t, detail.Comments[1].IsAdmin)

	rec = s.do(http.MethodGet, "/api/tickets", other, nil)
	assert.Empty(t, decodeBody[[]TicketDTO](t, rec))
	rec = s.do(http.MethodGet, "/api/tickets", admin, nil)
	assert.Len(t, decodeBody[[]TicketDTO](t, rec), 1)

	rec = s.do(http.MethodGet, "/api/admin/tickets/stats", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeBody[TicketStatsDTO](t, rec)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.ByStatus["in_progress"])
	assert.Equal(t, 0, stats.ByStatus["pending"])
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"retryable", &points.TransactionError{Op: "purchase", Err: fmt.Errorf("%w: deadlock", points.ErrConflict)}, http.StatusServiceUnavailable, codeConflict},
		{"store fault", &points.TransactionError{Op: "purchase", Err: errors.New("connection reset")}, http.StatusInternalServerError, codeInternal},
		{"ticket not found", ticket.ErrTicketNotFound, http.StatusNotFound, codeNotFound},
		{"wrapped not found", fmt.Errorf("load: %w", points.ErrRequestNotFound), http.StatusNotFound, codeNotFound},
		{"already resolved", &points.AlreadyResolvedError{RequestID: "r1", Status: points.TopUpApproved}, http.StatusConflict, codeAlreadyResolved},
		{"forbidden", points.ErrForbidden, http.StatusForbidden, codeForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := statusFor(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, resp.Code)
		})
	}
}

func TestInternalErrorsAreNotEchoed(t *testing.T) {
	_, resp := statusFor(errors.New("pq: password authentication failed for user app"))
	assert.Equal(t, "internal error", resp.Error)
}
