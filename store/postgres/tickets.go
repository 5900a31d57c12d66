package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/warp/points-engine/points"
	"github.com/warp/points-engine/ticket"
)

// =============================================================================
// TICKETS
// =============================================================================

const ticketColumns = `id, title, description, status, priority, user_id, assigned_admin_id, created_at, updated_at`

func scanTicket(row pgx.Row) (*ticket.Ticket, error) {
	var (
		t                ticket.Ticket
		id, userID       string
		status, priority string
		assigned         *string
	)
	err := row.Scan(&id, &t.Title, &t.Description, &status, &priority, &userID, &assigned, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ticket.ErrTicketNotFound
	}
	if err != nil {
		return nil, err
	}
	t.ID = ticket.ID(id)
	t.UserID = points.AccountID(userID)
	t.Status = ticket.Status(status)
	t.Priority = ticket.Priority(priority)
	if assigned != nil {
		a := points.AccountID(*assigned)
		t.AssignedAdmin = &a
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}

func (s *Store) GetTicket(ctx context.Context, id ticket.ID) (*ticket.Ticket, error) {
	return scanTicket(s.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, string(id)))
}

func (s *Store) ListTickets(ctx context.Context, f ticket.Filter) ([]ticket.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets`
	var args []any
	if f.UserID != nil {
		query += ` WHERE user_id = $1`
		args = append(args, string(*f.UserID))
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	out := []ticket.Ticket{}
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *Store) ListFiles(ctx context.Context, id ticket.ID) ([]ticket.File, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, ticket_id, filename, file_url, file_size, file_type, uploaded_by, created_at
		FROM ticket_files WHERE ticket_id = $1 ORDER BY id`, string(id))
	if err != nil {
		return nil, fmt.Errorf("list ticket files: %w", err)
	}
	defer rows.Close()

	out := []ticket.File{}
	for rows.Next() {
		var (
			f                    ticket.File
			ticketID, uploadedBy string
		)
		if err := rows.Scan(&f.ID, &ticketID, &f.Filename, &f.FileURL, &f.FileSize, &f.FileType, &uploadedBy, &f.CreatedAt); err != nil {
			return nil, err
		}
		f.TicketID = ticket.ID(ticketID)
		f.UploadedBy = points.AccountID(uploadedBy)
		f.CreatedAt = f.CreatedAt.UTC()
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) ListComments(ctx context.Context, id ticket.ID) ([]ticket.Comment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, ticket_id, user_id, comment, is_admin_comment, created_at
		FROM ticket_comments WHERE ticket_id = $1 ORDER BY id`, string(id))
	if err != nil {
		return nil, fmt.Errorf("list ticket comments: %w", err)
	}
	defer rows.Close()

	out := []ticket.Comment{}
	for rows.Next() {
		var (
			c                ticket.Comment
			ticketID, userID string
		)
		if err := rows.Scan(&c.ID, &ticketID, &userID, &c.Comment, &c.IsAdmin, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.TicketID = ticket.ID(ticketID)
		c.UserID = points.AccountID(userID)
		c.CreatedAt = c.CreatedAt.UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) CountByStatus(ctx context.Context) (map[ticket.Status]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM tickets GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count tickets: %w", err)
	}
	defer rows.Close()

	counts := make(map[ticket.Status]int)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[ticket.Status(status)] = int(n)
	}
	return counts, rows.Err()
}

// =============================================================================
// TICKET TX
// =============================================================================

type ticketTx struct {
	q querier
}

func (tx *ticketTx) InsertTicket(ctx context.Context, t *ticket.Ticket) error {
	var assigned *string
	if t.AssignedAdmin != nil {
		a := string(*t.AssignedAdmin)
		assigned = &a
	}
	_, err := tx.q.Exec(ctx, `
		INSERT INTO tickets (`+ticketColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		string(t.ID), t.Title, t.Description, string(t.Status), string(t.Priority),
		string(t.UserID), assigned, t.CreatedAt.UTC(), t.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert ticket: %w", err)
	}
	return nil
}

func (tx *ticketTx) InsertFile(ctx context.Context, f *ticket.File) error {
	err := tx.q.QueryRow(ctx, `
		INSERT INTO ticket_files (ticket_id, filename, file_url, file_size, file_type, uploaded_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		string(f.TicketID), f.Filename, f.FileURL, f.FileSize, f.FileType, string(f.UploadedBy), f.CreatedAt.UTC()).Scan(&f.ID)
	if err != nil {
		return fmt.Errorf("insert ticket file: %w", err)
	}
	return nil
}

func (tx *ticketTx) InsertComment(ctx context.Context, c *ticket.Comment) error {
	err := tx.q.QueryRow(ctx, `
		INSERT INTO ticket_comments (ticket_id, user_id, comment, is_admin_comment, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		string(c.TicketID), string(c.UserID), c.Comment, c.IsAdmin, c.CreatedAt.UTC()).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("insert ticket comment: %w", err)
	}
	return nil
}

func (tx *ticketTx) SetStatus(ctx context.Context, id ticket.ID, status ticket.Status, at time.Time) error {
	tag, err := tx.q.Exec(ctx,
		`UPDATE tickets SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), at.UTC(), string(id))
	if err != nil {
		return fmt.Errorf("update ticket status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ticket.ErrTicketNotFound
	}
	return nil
}
