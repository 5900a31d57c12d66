package ticket

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/warp/points-engine/points"
)

// NewTicket is the user's ticket submission.
type NewTicket struct {
	Title       string
	Description string
	Priority    Priority // empty means medium
	Files       []FileInput
}

type FileInput struct {
	Filename string
	FileURL  string
	FileSize int64
	FileType string
}

type Service struct {
	Store  Store
	Logger logrus.FieldLogger
	Now    func() time.Time
	NewID  func() string
}

func NewService(store Store, logger logrus.FieldLogger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		Store:  store,
		Logger: logger,
		Now:    time.Now,
		NewID:  uuid.NewString,
	}
}

func invalid(field, message string) error {
	return &points.ValidationError{Field: field, Message: message}
}

func (s *Service) now() time.Time { return s.Now().UTC() }

// =============================================================================
// USER OPERATIONS
// =============================================================================

// Create opens a ticket and records its files in one transaction.
func (s *Service) Create(ctx context.Context, who points.Principal, in NewTicket) (*Detail, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, invalid("title", "is required")
	}
	priority := in.Priority
	if priority == "" {
		priority = PriorityMedium
	}
	if !priority.Valid() {
		return nil, invalid("priority", "must be low, medium, high or urgent")
	}
	for i, f := range in.Files {
		if strings.TrimSpace(f.Filename) == "" || strings.TrimSpace(f.FileURL) == "" {
			return nil, invalid(fmt.Sprintf("files[%d]", i), "filename and file_url are required")
		}
	}

	now := s.now()
	d := Detail{
		Ticket: Ticket{
			ID:          ID(s.NewID()),
			Title:       title,
			Description: strings.TrimSpace(in.Description),
			Status:      StatusPending,
			Priority:    priority,
			UserID:      who.UserID,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		Files:    []File{},
		Comments: []Comment{},
	}

	err := s.Store.WithTicketTx(ctx, func(tx Tx) error {
		if err := tx.InsertTicket(ctx, &d.Ticket); err != nil {
			return err
		}
		for _, fi := range in.Files {
			f := File{
				TicketID:   d.ID,
				Filename:   fi.Filename,
				FileURL:    fi.FileURL,
				FileSize:   fi.FileSize,
				FileType:   fi.FileType,
				UploadedBy: who.UserID,
				CreatedAt:  now,
			}
			if err := tx.InsertFile(ctx, &f); err != nil {
				return err
			}
			d.Files = append(d.Files, f)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create ticket: %w", err)
	}

	s.Logger.WithFields(logrus.Fields{
		"ticket_id":  d.ID,
		"account_id": who.UserID,
		"files":      len(d.Files),
	}).Info("ticket created")
	return &d, nil
}

// List returns the caller's tickets, or every ticket for an admin.
func (s *Service) List(ctx context.Context, who points.Principal) ([]Ticket, error) {
	var filter Filter
	if !who.IsAdmin() {
		filter.UserID = &who.UserID
	}
	tickets, err := s.Store.ListTickets(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	return tickets, nil
}

func (s *Service) Get(ctx context.Context, who points.Principal, id ID) (*Detail, error) {
	t, err := s.visible(ctx, who, id)
	if err != nil {
		return nil, err
	}
	files, err := s.Store.ListFiles(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	comments, err := s.Store.ListComments(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return &Detail{Ticket: *t, Files: files, Comments: comments}, nil
}

// AddComment appends a comment. Comments by admins are flagged as such.
func (s *Service) AddComment(ctx context.Context, who points.Principal, id ID, text string) (*Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, invalid("comment", "is required")
	}
	if _, err := s.visible(ctx, who, id); err != nil {
		return nil, err
	}

	c := Comment{
		TicketID:  id,
		UserID:    who.UserID,
		Comment:   text,
		IsAdmin:   who.IsAdmin(),
		CreatedAt: s.now(),
	}
	err := s.Store.WithTicketTx(ctx, func(tx Tx) error {
		return tx.InsertComment(ctx, &c)
	})
	if err != nil {
		return nil, fmt.Errorf("add comment: %w", err)
	}

	s.Logger.WithFields(logrus.Fields{"ticket_id": id, "account_id": who.UserID, "admin": c.IsAdmin}).Info("comment added")
	return &c, nil
}

// =============================================================================
// ADMIN OPERATIONS
// =============================================================================

// UpdateStatus sets the ticket status and, when comment is non-empty,
// records it as an admin comment in the same transaction.
func (s *Service) UpdateStatus(ctx context.Context, admin points.Principal, id ID, status Status, comment string) (*Ticket, error) {
	if !admin.IsAdmin() {
		return nil, fmt.Errorf("%w: updating ticket status requires the admin role", points.ErrForbidden)
	}
	if !status.Valid() {
		return nil, invalid("status", "must be pending, in_progress, completed or rejected")
	}

	now := s.now()
	comment = strings.TrimSpace(comment)
	err := s.Store.WithTicketTx(ctx, func(tx Tx) error {
		if err := tx.SetStatus(ctx, id, status, now); err != nil {
			return err
		}
		if comment == "" {
			return nil
		}
		return tx.InsertComment(ctx, &Comment{
			TicketID:  id,
			UserID:    admin.UserID,
			Comment:   comment,
			IsAdmin:   true,
			CreatedAt: now,
		})
	})
	if errors.Is(err, ErrTicketNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("update ticket status: %w", err)
	}

	s.Logger.WithFields(logrus.Fields{"ticket_id": id, "admin_id": admin.UserID, "status": status}).Info("ticket status updated")
	return s.Store.GetTicket(ctx, id)
}

// Stats counts tickets by status. Every status is present in ByStatus.
func (s *Service) Stats(ctx context.Context, admin points.Principal) (*Stats, error) {
	if !admin.IsAdmin() {
		return nil, fmt.Errorf("%w: ticket stats require the admin role", points.ErrForbidden)
	}
	counts, err := s.Store.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count tickets: %w", err)
	}

	st := Stats{ByStatus: make(map[Status]int, len(Statuses))}
	for _, status := range Statuses {
		st.ByStatus[status] = counts[status]
		st.Total += counts[status]
	}
	return &st, nil
}

// visible loads the ticket if the caller may see it.
func (s *Service) visible(ctx context.Context, who points.Principal, id ID) (*Ticket, error) {
	t, err := s.Store.GetTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	if !who.IsAdmin() && t.UserID != who.UserID {
		return nil, ErrTicketNotFound
	}
	return t, nil
}
