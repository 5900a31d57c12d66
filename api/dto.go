/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the domain model in points/ and ticket/ from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TIMES:
  RFC 3339, UTC.

AMOUNTS:
  Money amounts are decimal strings with two places ("150.00"); points are
  integers.

SEE ALSO:
  - handlers.go, tickets.go: Use these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/points-engine/points"
	"github.com/warp/points-engine/ticket"
)

// =============================================================================
// ACCOUNT & CATALOG
// =============================================================================

type AccountDTO struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Points int64  `json:"points"`
	Role   string `json:"role"`
}

type ProductDTO struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	Category     string `json:"category"`
	Description  string `json:"description"`
	Points       int64  `json:"points"`
	Image        string `json:"image"`
	VideoURL     string `json:"video_url"`
	Version      string `json:"version"`
	Details      string `json:"details"`
	Requirements string `json:"requirements"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

// ProductRequest creates or replaces a product.
type ProductRequest struct {
	Title        string `json:"title"`
	Category     string `json:"category"`
	Description  string `json:"description"`
	Points       int64  `json:"points"`
	Image        string `json:"image"`
	VideoURL     string `json:"video_url"`
	Version      string `json:"version"`
	Details      string `json:"details"`
	Requirements string `json:"requirements"`
}

func (r ProductRequest) input() points.ProductInput {
	return points.ProductInput{
		Title:        r.Title,
		Category:     r.Category,
		Description:  r.Description,
		PointsPrice:  r.Points,
		Image:        r.Image,
		VideoURL:     r.VideoURL,
		Version:      r.Version,
		Details:      r.Details,
		Requirements: r.Requirements,
	}
}

// =============================================================================
// PURCHASES & OWNERSHIP
// =============================================================================

type PurchaseRequest struct {
	ProductID int64 `json:"product_id"`
}

type PurchaseResponse struct {
	NewBalance  int64 `json:"new_balance"`
	OwnershipID int64 `json:"ownership_id"`
}

type OwnedProductDTO struct {
	ID           int64   `json:"id"`
	ProductID    int64   `json:"product_id"`
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	Image        string  `json:"image"`
	PurchaseDate string  `json:"purchase_date"`
	Status       string  `json:"status"`
	IPServer     *string `json:"ip_server"`
	LastIPUpdate *string `json:"last_ip_update"`
}

// BindingRequest sets the server a purchased product runs on.
type BindingRequest struct {
	ProductID int64  `json:"product_id"`
	IPServer  string `json:"ip_server"`
}

type OwnershipDTO struct {
	ID           int64   `json:"id"`
	ProductID    int64   `json:"product_id"`
	IPServer     *string `json:"ip_server"`
	LastIPUpdate *string `json:"last_ip_update"`
}

// =============================================================================
// TOP-UPS
// =============================================================================

// TopUpSubmitRequest accepts amount as a JSON number or string.
type TopUpSubmitRequest struct {
	Amount          decimal.Decimal `json:"amount"`
	Points          int64           `json:"points"`
	PaymentMethod   string          `json:"payment_method"`
	TransactionDate string          `json:"transaction_date"`
	ProofReference  string          `json:"proof_reference"`
}

func (r TopUpSubmitRequest) submission() points.TopUpSubmission {
	return points.TopUpSubmission{
		Amount:        r.Amount,
		Points:        r.Points,
		Method:        points.PaymentMethod(r.PaymentMethod),
		ProofRef:      r.ProofReference,
		TransactionAt: r.TransactionDate,
	}
}

type TopUpSubmitResponse struct {
	RequestID string `json:"request_id"`
}

type TopUpDTO struct {
	ID              string  `json:"id"`
	UserID          string  `json:"user_id"`
	Amount          string  `json:"amount"`
	Points          int64   `json:"points"`
	PaymentMethod   string  `json:"payment_method"`
	ProofReference  string  `json:"proof_reference"`
	TransactionDate string  `json:"transaction_date"`
	Status          string  `json:"status"`
	CreatedAt       string  `json:"created_at"`
	ResolvedAt      *string `json:"resolved_at,omitempty"`
	ResolvedBy      *string `json:"resolved_by,omitempty"`
}

// =============================================================================
// HISTORY
// =============================================================================

type HistoryItemDTO struct {
	Type          string  `json:"type"`
	ReferenceID   string  `json:"reference_id"`
	Points        int64   `json:"points"`
	Amount        *string `json:"amount,omitempty"`
	PaymentMethod string  `json:"payment_method,omitempty"`
	Status        string  `json:"status"`
	Details       string  `json:"details,omitempty"`
	CreatedAt     string  `json:"created_at"`
}

type EntryDTO struct {
	ID           int64  `json:"id"`
	Delta        int64  `json:"delta"`
	Kind         string `json:"kind"`
	ReferenceID  string `json:"reference_id"`
	BalanceAfter int64  `json:"balance_after"`
	CreatedAt    string `json:"created_at"`
}

// =============================================================================
// TICKETS
// =============================================================================

type FileRequest struct {
	Filename string `json:"filename"`
	FileURL  string `json:"file_url"`
	FileSize int64  `json:"file_size"`
	FileType string `json:"file_type"`
}

type CreateTicketRequest struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Priority    string        `json:"priority"`
	Files       []FileRequest `json:"files"`
}

type CommentRequest struct {
	Comment string `json:"comment"`
}

type TicketStatusRequest struct {
	Status  string `json:"status"`
	Comment string `json:"comment"`
}

type TicketDTO struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Description   string  `json:"description"`
	Status        string  `json:"status"`
	Priority      string  `json:"priority"`
	UserID        string  `json:"user_id"`
	AssignedAdmin *string `json:"assigned_admin_id"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

type FileDTO struct {
	ID         int64  `json:"id"`
	Filename   string `json:"filename"`
	FileURL    string `json:"file_url"`
	FileSize   int64  `json:"file_size"`
	FileType   string `json:"file_type"`
	UploadedBy string `json:"uploaded_by"`
	CreatedAt  string `json:"created_at"`
}

type CommentDTO struct {
	ID        int64  `json:"id"`
	UserID    string `json:"user_id"`
	Comment   string `json:"comment"`
	IsAdmin   bool   `json:"is_admin_comment"`
	CreatedAt string `json:"created_at"`
}

type TicketDetailDTO struct {
	TicketDTO
	Files    []FileDTO    `json:"files"`
	Comments []CommentDTO `json:"comments"`
}

type TicketStatsDTO struct {
	ByStatus map[string]int `json:"by_status"`
	Total    int            `json:"total"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func toAccountDTO(a *points.Account) AccountDTO {
	return AccountDTO{
		ID:     string(a.ID),
		Name:   a.Name,
		Email:  a.Email,
		Points: a.Points,
		Role:   string(a.Role),
	}
}

func toProductDTO(p points.Product) ProductDTO {
	return ProductDTO{
		ID:           int64(p.ID),
		Title:        p.Title,
		Category:     p.Category,
		Description:  p.Description,
		Points:       p.PointsPrice,
		Image:        p.Image,
		VideoURL:     p.VideoURL,
		Version:      p.Version,
		Details:      p.Details,
		Requirements: p.Requirements,
		CreatedAt:    formatTime(p.CreatedAt),
		UpdatedAt:    formatTime(p.UpdatedAt),
	}
}

func toOwnedProductDTO(op points.OwnedProduct) OwnedProductDTO {
	return OwnedProductDTO{
		ID:           int64(op.ID),
		ProductID:    int64(op.ProductID),
		Title:        op.Title,
		Description:  op.Description,
		Image:        op.Image,
		PurchaseDate: formatTime(op.PurchasedAt),
		Status:       string(op.Status),
		IPServer:     op.ServerBinding,
		LastIPUpdate: formatTimePtr(op.BindingUpdatedAt),
	}
}

func toTopUpDTO(r points.TopUpRequest) TopUpDTO {
	dto := TopUpDTO{
		ID:              string(r.ID),
		UserID:          string(r.UserID),
		Amount:          r.Amount.StringFixed(2),
		Points:          r.Points,
		PaymentMethod:   string(r.Method),
		ProofReference:  r.ProofRef,
		TransactionDate: formatTime(r.TransactionAt),
		Status:          string(r.Status),
		CreatedAt:       formatTime(r.CreatedAt),
		ResolvedAt:      formatTimePtr(r.ResolvedAt),
	}
	if r.ResolvedBy != nil {
		by := string(*r.ResolvedBy)
		dto.ResolvedBy = &by
	}
	return dto
}

func toHistoryDTO(item points.HistoryItem) HistoryItemDTO {
	dto := HistoryItemDTO{
		Type:          string(item.Kind),
		ReferenceID:   item.ReferenceID,
		Points:        item.Points,
		PaymentMethod: string(item.Method),
		Status:        item.Status,
		Details:       item.Details,
		CreatedAt:     formatTime(item.CreatedAt),
	}
	if item.Kind == points.HistoryTopUp {
		amount := item.Amount.StringFixed(2)
		dto.Amount = &amount
	}
	return dto
}

func toEntryDTO(e points.Entry) EntryDTO {
	return EntryDTO{
		ID:           e.ID,
		Delta:        e.Delta,
		Kind:         string(e.Kind),
		ReferenceID:  e.ReferenceID,
		BalanceAfter: e.BalanceAfter,
		CreatedAt:    formatTime(e.CreatedAt),
	}
}

func toTicketDTO(t ticket.Ticket) TicketDTO {
	dto := TicketDTO{
		ID:          string(t.ID),
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		Priority:    string(t.Priority),
		UserID:      string(t.UserID),
		CreatedAt:   formatTime(t.CreatedAt),
		UpdatedAt:   formatTime(t.UpdatedAt),
	}
	if t.AssignedAdmin != nil {
		a := string(*t.AssignedAdmin)
		dto.AssignedAdmin = &a
	}
	return dto
}

func toTicketDetailDTO(d *ticket.Detail) TicketDetailDTO {
	dto := TicketDetailDTO{
		TicketDTO: toTicketDTO(d.Ticket),
		Files:     make([]FileDTO, len(d.Files)),
		Comments:  make([]CommentDTO, len(d.Comments)),
	}
	for i, f := range d.Files {
		dto.Files[i] = FileDTO{
			ID:         f.ID,
			Filename:   f.Filename,
			FileURL:    f.FileURL,
			FileSize:   f.FileSize,
			FileType:   f.FileType,
			UploadedBy: string(f.UploadedBy),
			CreatedAt:  formatTime(f.CreatedAt),
		}
	}
	for i, c := range d.Comments {
		dto.Comments[i] = toCommentDTO(c)
	}
	return dto
}

func toCommentDTO(c ticket.Comment) CommentDTO {
	return CommentDTO{
		ID:        c.ID,
		UserID:    string(c.UserID),
		Comment:   c.Comment,
		IsAdmin:   c.IsAdmin,
		CreatedAt: formatTime(c.CreatedAt),
	}
}
