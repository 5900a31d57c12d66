package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/warp/points-engine/ticket"
)

// =============================================================================
// TICKET HANDLERS
// =============================================================================

// CreateTicket opens a ticket with optional file references.
// POST /api/tickets
func (h *Handler) CreateTicket(w http.ResponseWriter, r *http.Request) {
	who, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req CreateTicketRequest
	if !decode(w, r, &req) {
		return
	}

	in := ticket.NewTicket{
		Title:       req.Title,
		Description: req.Description,
		Priority:    ticket.Priority(req.Priority),
	}
	for _, f := range req.Files {
		in.Files = append(in.Files, ticket.FileInput{
			Filename: f.Filename,
			FileURL:  f.FileURL,
			FileSize: f.FileSize,
			FileType: f.FileType,
		})
	}

	d, err := h.Tickets.Create(r.Context(), who, in)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTicketDetailDTO(d))
}

// ListTickets returns the caller's tickets, or all tickets for an admin.
// GET /api/tickets
func (h *Handler) ListTickets(w http.ResponseWriter, r *http.Request) {
	who, ok := h.principal(w, r)
	if !ok {
		return
	}
	list, err := h.Tickets.List(r.Context(), who)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dtos := make([]TicketDTO, len(list))
	for i, t := range list {
		dtos[i] = toTicketDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetTicket returns a ticket with its files and comments.
// GET /api/tickets/{id}
func (h *Handler) GetTicket(w http.ResponseWriter, r *http.Request) {
	who, ok := h.principal(w, r)
	if !ok {
		return
	}
	d, err := h.Tickets.Get(r.Context(), who, ticket.ID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTicketDetailDTO(d))
}

// AddTicketComment appends a comment.
// POST /api/tickets/{id}/comments
func (h *Handler) AddTicketComment(w http.ResponseWriter, r *http.Request) {
	who, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req CommentRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.Tickets.AddComment(r.Context(), who, ticket.ID(chi.URLParam(r, "id")), req.Comment)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCommentDTO(*c))
}

// UpdateTicketStatus moves a ticket, optionally with an admin comment.
// PUT /api/admin/tickets/{id}/status
func (h *Handler) UpdateTicketStatus(w http.ResponseWriter, r *http.Request) {
	who, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req TicketStatusRequest
	if !decode(w, r, &req) {
		return
	}
	t, err := h.Tickets.UpdateStatus(r.Context(), who, ticket.ID(chi.URLParam(r, "id")), ticket.Status(req.Status), req.Comment)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTicketDTO(*t))
}

// GetTicketStats counts tickets per status.
// GET /api/admin/tickets/stats
func (h *Handler) GetTicketStats(w http.ResponseWriter, r *http.Request) {
	who, ok := h.principal(w, r)
	if !ok {
		return
	}
	st, err := h.Tickets.Stats(r.Context(), who)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dto := TicketStatsDTO{ByStatus: make(map[string]int, len(st.ByStatus)), Total: st.Total}
	for s, n := range st.ByStatus {
		dto.ByStatus[string(s)] = n
	}
	writeJSON(w, http.StatusOK, dto)
}
