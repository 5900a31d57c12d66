package ticket

import (
	"context"
	"time"
)

// Store persists tickets. Lookups return ErrTicketNotFound, never (nil, nil).
type Store interface {
	GetTicket(ctx context.Context, id ID) (*Ticket, error)

	// ListTickets returns matching tickets, newest first.
	ListTickets(ctx context.Context, filter Filter) ([]Ticket, error)

	ListFiles(ctx context.Context, id ID) ([]File, error)

	// ListComments returns the ticket's comments, oldest first.
	ListComments(ctx context.Context, id ID) ([]Comment, error)

	CountByStatus(ctx context.Context) (map[Status]int, error)

	// WithTicketTx commits when fn returns nil and rolls back otherwise.
	WithTicketTx(ctx context.Context, fn func(Tx) error) error
}

type Tx interface {
	InsertTicket(ctx context.Context, t *Ticket) error

	// InsertFile and InsertComment assign the record's ID.
	InsertFile(ctx context.Context, f *File) error
	InsertComment(ctx context.Context, c *Comment) error

	// SetStatus returns ErrTicketNotFound if no such ticket exists.
	SetStatus(ctx context.Context, id ID, status Status, at time.Time) error
}
