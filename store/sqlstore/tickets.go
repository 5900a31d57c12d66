package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/warp/points-engine/points"
	"github.com/warp/points-engine/ticket"
)

// =============================================================================
// TICKETS
// =============================================================================

const ticketColumns = `id, title, description, status, priority, user_id, assigned_admin_id, created_at, updated_at`

func scanTicket(row interface{ Scan(...any) error }) (*ticket.Ticket, error) {
	var (
		t                ticket.Ticket
		status, priority string
		assigned         sql.NullString
		created, updated string
	)
	err := row.Scan(&t.ID, &t.Title, &t.Description, &status, &priority, &t.UserID, &assigned, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ticket.ErrTicketNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Status = ticket.Status(status)
	t.Priority = ticket.Priority(priority)
	if assigned.Valid {
		a := points.AccountID(assigned.String)
		t.AssignedAdmin = &a
	}
	if t.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) GetTicket(ctx context.Context, id ticket.ID) (*ticket.Ticket, error) {
	return scanTicket(s.db.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, string(id)))
}

func (s *Store) ListTickets(ctx context.Context, f ticket.Filter) ([]ticket.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets`
	var args []any
	if f.UserID != nil {
		query += ` WHERE user_id = ?`
		args = append(args, string(*f.UserID))
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
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
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ticket_id, filename, file_url, file_size, file_type, uploaded_by, created_at
		FROM ticket_files WHERE ticket_id = ? ORDER BY id`, string(id))
	if err != nil {
		return nil, fmt.Errorf("list ticket files: %w", err)
	}
	defer rows.Close()

	out := []ticket.File{}
	for rows.Next() {
		var (
			f       ticket.File
			created string
		)
		if err := rows.Scan(&f.ID, &f.TicketID, &f.Filename, &f.FileURL, &f.FileSize, &f.FileType, &f.UploadedBy, &created); err != nil {
			return nil, err
		}
		if f.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *Store) ListComments(ctx context.Context, id ticket.ID) ([]ticket.Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ticket_id, user_id, comment, is_admin_comment, created_at
		FROM ticket_comments WHERE ticket_id = ? ORDER BY id`, string(id))
	if err != nil {
		return nil, fmt.Errorf("list ticket comments: %w", err)
	}
	defer rows.Close()

	out := []ticket.Comment{}
	for rows.Next() {
		var (
			c       ticket.Comment
			created string
		)
		if err := rows.Scan(&c.ID, &c.TicketID, &c.UserID, &c.Comment, &c.IsAdmin, &created); err != nil {
			return nil, err
		}
		if c.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) CountByStatus(ctx context.Context) (map[ticket.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tickets GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count tickets: %w", err)
	}
	defer rows.Close()

	counts := make(map[ticket.Status]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[ticket.Status(status)] = n
	}
	return counts, rows.Err()
}

// =============================================================================
// TICKET TX
// =============================================================================

type ticketTx struct {
	q queryer
}

func (tx *ticketTx) InsertTicket(ctx context.Context, t *ticket.Ticket) error {
	var assigned sql.NullString
	if t.AssignedAdmin != nil {
		assigned = nullString(string(*t.AssignedAdmin))
	}
	_, err := tx.q.ExecContext(ctx, `
		INSERT INTO tickets (`+ticketColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(t.ID), t.Title, t.Description, string(t.Status), string(t.Priority),
		string(t.UserID), assigned, formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert ticket: %w", err)
	}
	return nil
}

func (tx *ticketTx) InsertFile(ctx context.Context, f *ticket.File) error {
	res, err := tx.q.ExecContext(ctx, `
		INSERT INTO ticket_files (ticket_id, filename, file_url, file_size, file_type, uploaded_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(f.TicketID), f.Filename, f.FileURL, f.FileSize, f.FileType, string(f.UploadedBy), formatTime(f.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert ticket file: %w", err)
	}
	if f.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("ticket file id: %w", err)
	}
	return nil
}

func (tx *ticketTx) InsertComment(ctx context.Context, c *ticket.Comment) error {
	res, err := tx.q.ExecContext(ctx, `
		INSERT INTO ticket_comments (ticket_id, user_id, comment, is_admin_comment, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		string(c.TicketID), string(c.UserID), c.Comment, c.IsAdmin, formatTime(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert ticket comment: %w", err)
	}
	if c.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("ticket comment id: %w", err)
	}
	return nil
}

func (tx *ticketTx) SetStatus(ctx context.Context, id ticket.ID, status ticket.Status, at time.Time) error {
	res, err := tx.q.ExecContext(ctx,
		`UPDATE tickets SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), formatTime(at), string(id))
	if err != nil {
		return fmt.Errorf("update ticket status: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return ticket.ErrTicketNotFound
	}
	return nil
}
