// Package tickettest is the conformance suite every ticket.Store must pass.
// Stores that also hold accounts receive them through the seed callback.
package tickettest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/points-engine/points"
	"github.com/warp/points-engine/ticket"
)

// Store is what the suite needs: tickets plus a way to create the
// accounts they reference.
type Store interface {
	ticket.Store
	points.AccountStore
}

type Factory func(t *testing.T) Store

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type fixture struct {
	store   Store
	service *ticket.Service
	user    points.Principal
	other   points.Principal
	admin   points.Principal
}

func newFixture(t *testing.T, newStore Factory) *fixture {
	t.Helper()
	store := newStore(t)
	logger, _ := test.NewNullLogger()
	c := &clock{t: time.Date(2025, time.April, 1, 8, 0, 0, 0, time.UTC)}

	svc := ticket.NewService(store, logger)
	svc.Now = c.Now

	f := &fixture{
		store:   store,
		service: svc,
		user:    points.Principal{UserID: "user-1", Role: points.RoleUser},
		other:   points.Principal{UserID: "user-2", Role: points.RoleUser},
		admin:   points.Principal{UserID: "admin-1", Role: points.RoleAdmin},
	}
	for _, p := range []points.Principal{f.user, f.other, f.admin} {
		_, err := store.EnsureAccount(context.Background(), points.Account{
			ID:        p.UserID,
			Name:      string(p.UserID),
			Role:      p.Role,
			CreatedAt: c.Now(),
		})
		require.NoError(t, err)
	}
	return f
}

func (f *fixture) open(t *testing.T, who points.Principal, title string) *ticket.Detail {
	t.Helper()
	d, err := f.service.Create(context.Background(), who, ticket.NewTicket{Title: title})
	require.NoError(t, err)
	return d
}

// Run executes every conformance test against stores from newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, newStore Factory)
	}{
		{"Create_WithFiles", testCreateWithFiles},
		{"Create_Validation", testCreateValidation},
		{"Create_RollsBackFiles", testCreateRollsBack},
		{"List_Visibility", testListVisibility},
		{"Get_HidesOthersTickets", testGetVisibility},
		{"AddComment", testAddComment},
		{"UpdateStatus_WithComment", testUpdateStatus},
		{"UpdateStatus_Errors", testUpdateStatusErrors},
		{"Stats", testStats},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) { tc.fn(t, newStore) })
	}
}

func testCreateWithFiles(t *testing.T, newStore Factory) {
	// GIVEN: a submission with two attachments
	f := newFixture(t, newStore)
	ctx := context.Background()

	// WHEN: the user opens the ticket
	d, err := f.service.Create(ctx, f.user, ticket.NewTicket{
		Title:       "  Script crashes on join  ",
		Description: "stack trace attached",
		Priority:    ticket.PriorityHigh,
		Files: []ticket.FileInput{
			{Filename: "trace.txt", FileURL: "files/trace.txt", FileSize: 512, FileType: "text/plain"},
			{Filename: "screen.png", FileURL: "files/screen.png", FileSize: 20480, FileType: "image/png"},
		},
	})

	// THEN: the ticket is pending, trimmed, and its files are stored
	require.NoError(t, err)
	assert.NotEmpty(t, d.ID)
	assert.Equal(t, "Script crashes on join", d.Title)
	assert.Equal(t, ticket.StatusPending, d.Status)
	assert.Equal(t, ticket.PriorityHigh, d.Priority)
	require.Len(t, d.Files, 2)

	got, err := f.service.Get(ctx, f.user, d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.Title, got.Title)
	assert.Equal(t, f.user.UserID, got.UserID)
	require.Len(t, got.Files, 2)
	assert.Equal(t, "trace.txt", got.Files[0].Filename)
	assert.Equal(t, int64(512), got.Files[0].FileSize)
	assert.Equal(t, f.user.UserID, got.Files[0].UploadedBy)
	assert.Equal(t, "image/png", got.Files[1].FileType)
	assert.Empty(t, got.Comments)
}

func testCreateValidation(t *testing.T, newStore Factory) {
	f := newFixture(t, newStore)
	ctx := context.Background()

	cases := map[string]ticket.NewTicket{
		"title":    {Title: "   "},
		"priority": {Title: "x", Priority: "asap"},
		"files[0]": {Title: "x", Files: []ticket.FileInput{{Filename: "a.txt"}}},
	}
	for field, in := range cases {
		_, err := f.service.Create(ctx, f.user, in)
		var verr *points.ValidationError
		require.ErrorAs(t, err, &verr, field)
		assert.Equal(t, field, verr.Field)
	}

	d, err := f.service.Create(ctx, f.user, ticket.NewTicket{Title: "defaults"})
	require.NoError(t, err)
	assert.Equal(t, ticket.PriorityMedium, d.Priority)

	list, err := f.service.List(ctx, f.user)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

var errInjected = errors.New("injected failure")

type failingStore struct{ Store }

func (s failingStore) WithTicketTx(ctx context.Context, fn func(ticket.Tx) error) error {
	return s.Store.WithTicketTx(ctx, func(tx ticket.Tx) error {
		return fn(failingTx{tx})
	})
}

type failingTx struct{ ticket.Tx }

func (failingTx) InsertFile(context.Context, *ticket.File) error { return errInjected }

func testCreateRollsBack(t *testing.T, newStore Factory) {
	// GIVEN: a store that fails on the first file insert
	f := newFixture(t, newStore)
	f.service.Store = failingStore{f.store}

	// WHEN: creating a ticket with a file
	_, err := f.service.Create(context.Background(), f.user, ticket.NewTicket{
		Title: "with file",
		Files: []ticket.FileInput{{Filename: "a.txt", FileURL: "files/a.txt"}},
	})

	// THEN: the ticket row is not left behind
	require.ErrorIs(t, err, errInjected)
	list, err := f.store.ListTickets(context.Background(), ticket.Filter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func testListVisibility(t *testing.T, newStore Factory) {
	f := newFixture(t, newStore)
	ctx := context.Background()

	first := f.open(t, f.user, "first")
	f.open(t, f.other, "someone else's")
	third := f.open(t, f.user, "third")

	mine, err := f.service.List(ctx, f.user)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, third.ID, mine[0].ID)
	assert.Equal(t, first.ID, mine[1].ID)

	all, err := f.service.List(ctx, f.admin)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func testGetVisibility(t *testing.T, newStore Factory) {
	f := newFixture(t, newStore)
	ctx := context.Background()
	d := f.open(t, f.user, "private")

	_, err := f.service.Get(ctx, f.other, d.ID)
	require.ErrorIs(t, err, ticket.ErrTicketNotFound)

	_, err = f.service.Get(ctx, f.admin, d.ID)
	require.NoError(t, err)

	_, err = f.service.Get(ctx, f.user, "no-such-ticket")
	require.ErrorIs(t, err, ticket.ErrTicketNotFound)

	_, err = f.service.AddComment(ctx, f.other, d.ID, "me too")
	require.ErrorIs(t, err, ticket.ErrTicketNotFound)
}

func testAddComment(t *testing.T, newStore Factory) {
	f := newFixture(t, newStore)
	ctx := context.Background()
	d := f.open(t, f.user, "help")

	_, err := f.service.AddComment(ctx, f.user, d.ID, "any update?")
	require.NoError(t, err)
	_, err = f.service.AddComment(ctx, f.admin, d.ID, "looking into it")
	require.NoError(t, err)
	_, err = f.service.AddComment(ctx, f.user, d.ID, "   ")
	require.ErrorIs(t, err, points.ErrValidation)

	got, err := f.service.Get(ctx, f.user, d.ID)
	require.NoError(t, err)
	require.Len(t, got.Comments, 2)
	assert.Equal(t, "any update?", got.Comments[0].Comment)
	assert.False(t, got.Comments[0].IsAdmin)
	assert.Equal(t, "looking into it", got.Comments[1].Comment)
	assert.True(t, got.Comments[1].IsAdmin)
	assert.Equal(t, f.admin.UserID, got.Comments[1].UserID)
}

func testUpdateStatus(t *testing.T, newStore Factory) {
	// GIVEN: a pending ticket
	f := newFixture(t, newStore)
	ctx := context.Background()
	d := f.open(t, f.user, "refund")

	// WHEN: the admin completes it with a note
	updated, err := f.service.UpdateStatus(ctx, f.admin, d.ID, ticket.StatusCompleted, "refunded")

	// THEN: status changes and the note is an admin comment
	require.NoError(t, err)
	assert.Equal(t, ticket.StatusCompleted, updated.Status)
	assert.True(t, updated.UpdatedAt.After(d.UpdatedAt))

	got, err := f.service.Get(ctx, f.user, d.ID)
	require.NoError(t, err)
	assert.Equal(t, ticket.StatusCompleted, got.Status)
	require.Len(t, got.Comments, 1)
	assert.True(t, got.Comments[0].IsAdmin)
	assert.Equal(t, "refunded", got.Comments[0].Comment)

	// A blank comment adds nothing.
	_, err = f.service.UpdateStatus(ctx, f.admin, d.ID, ticket.StatusInProgress, "")
	require.NoError(t, err)
	got, err = f.service.Get(ctx, f.user, d.ID)
	require.NoError(t, err)
	assert.Equal(t, ticket.StatusInProgress, got.Status)
	assert.Len(t, got.Comments, 1)
}

func testUpdateStatusErrors(t *testing.T, newStore Factory) {
	f := newFixture(t, newStore)
	ctx := context.Background()
	d := f.open(t, f.user, "refund")

	_, err := f.service.UpdateStatus(ctx, f.user, d.ID, ticket.StatusCompleted, "")
	require.ErrorIs(t, err, points.ErrForbidden)

	_, err = f.service.UpdateStatus(ctx, f.admin, d.ID, "archived", "")
	require.ErrorIs(t, err, points.ErrValidation)

	_, err = f.service.UpdateStatus(ctx, f.admin, "no-such-ticket", ticket.StatusCompleted, "note")
	require.ErrorIs(t, err, ticket.ErrTicketNotFound)

	got, err := f.service.Get(ctx, f.user, d.ID)
	require.NoError(t, err)
	assert.Equal(t, ticket.StatusPending, got.Status)
}

func testStats(t *testing.T, newStore Factory) {
	f := newFixture(t, newStore)
	ctx := context.Background()

	a := f.open(t, f.user, "a")
	f.open(t, f.user, "b")
	c := f.open(t, f.other, "c")
	_, err := f.service.UpdateStatus(ctx, f.admin, a.ID, ticket.StatusCompleted, "")
	require.NoError(t, err)
	_, err = f.service.UpdateStatus(ctx, f.admin, c.ID, ticket.StatusRejected, "")
	require.NoError(t, err)

	st, err := f.service.Stats(ctx, f.admin)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 1, st.ByStatus[ticket.StatusPending])
	assert.Equal(t, 0, st.ByStatus[ticket.StatusInProgress])
	assert.Equal(t, 1, st.ByStatus[ticket.StatusCompleted])
	assert.Equal(t, 1, st.ByStatus[ticket.StatusRejected])
	assert.Len(t, st.ByStatus, 4)

	_, err = f.service.Stats(ctx, f.user)
	require.ErrorIs(t, err, points.ErrForbidden)
}
