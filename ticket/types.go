/*
Package ticket provides the support-ticket portal: users open tickets with
attached file records and discuss them with admins in comments; admins
move tickets through their status workflow.

STATUS WORKFLOW:
  pending ─▶ in_progress ─▶ completed
     │            │
     └────────────┴──────▶ rejected

  Admins may set any valid status; the workflow is advisory.

VISIBILITY:
  Users see their own tickets only. Admins see every ticket. A ticket the
  caller may not see reads as ErrTicketNotFound.

SEE ALSO:
  - service.go: operations
  - store.go: persistence contract
*/
package ticket

import (
	"errors"
	"time"

	"github.com/warp/points-engine/points"
)

type ID string

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusRejected   Status = "rejected"
)

// Statuses lists every status in workflow order.
var Statuses = []Status{StatusPending, StatusInProgress, StatusCompleted, StatusRejected}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type Ticket struct {
	ID            ID
	Title         string
	Description   string
	Status        Status
	Priority      Priority
	UserID        points.AccountID
	AssignedAdmin *points.AccountID
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// File is the record of an uploaded attachment. The upload itself
// happens elsewhere; FileURL points at it.
type File struct {
	ID         int64
	TicketID   ID
	Filename   string
	FileURL    string
	FileSize   int64
	FileType   string
	UploadedBy points.AccountID
	CreatedAt  time.Time
}

type Comment struct {
	ID        int64
	TicketID  ID
	UserID    points.AccountID
	Comment   string
	IsAdmin   bool
	CreatedAt time.Time
}

// Detail is a ticket with its files and comments (oldest first).
type Detail struct {
	Ticket
	Files    []File
	Comments []Comment
}

type Stats struct {
	ByStatus map[Status]int
	Total    int
}

// Filter narrows ListTickets. A nil UserID matches every ticket.
type Filter struct {
	UserID *points.AccountID
}

var ErrTicketNotFound = errors.New("ticket not found")
