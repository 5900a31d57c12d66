// Package memory provides an in-memory implementation of points.Store and
// ticket.Store for tests and demos.
//
// A single mutex is held for the whole of WithTx, so transactions are
// fully serialized. Rollback restores a snapshot taken at Begin.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/points-engine/points"
	"github.com/warp/points-engine/ticket"
)

// =============================================================================
// STATE
// =============================================================================

type entryKey struct {
	kind points.EntryKind
	ref  string
}

type state struct {
	accounts   map[points.AccountID]points.Account
	products   map[points.ProductID]points.Product
	ownerships map[points.OwnershipID]points.Ownership
	topups     map[points.TopUpID]points.TopUpRequest
	topupSeq   map[points.TopUpID]int64
	entries    []points.Entry
	entryKeys  map[entryKey]bool

	tickets   map[ticket.ID]ticket.Ticket
	ticketSeq map[ticket.ID]int64
	files     []ticket.File
	comments  []ticket.Comment

	seq int64 // shared id sequence
}

func newState() *state {
	return &state{
		accounts:   make(map[points.AccountID]points.Account),
		products:   make(map[points.ProductID]points.Product),
		ownerships: make(map[points.OwnershipID]points.Ownership),
		topups:     make(map[points.TopUpID]points.TopUpRequest),
		topupSeq:   make(map[points.TopUpID]int64),
		entryKeys:  make(map[entryKey]bool),
		tickets:    make(map[ticket.ID]ticket.Ticket),
		ticketSeq:  make(map[ticket.ID]int64),
	}
}

func (s *state) next() int64 {
	s.seq++
	return s.seq
}

// clone copies every table. Row values are copied by value; pointer
// fields inside rows are only ever replaced, never written through.
func (s *state) clone() *state {
	c := &state{
		accounts:   make(map[points.AccountID]points.Account, len(s.accounts)),
		products:   make(map[points.ProductID]points.Product, len(s.products)),
		ownerships: make(map[points.OwnershipID]points.Ownership, len(s.ownerships)),
		topups:     make(map[points.TopUpID]points.TopUpRequest, len(s.topups)),
		topupSeq:   make(map[points.TopUpID]int64, len(s.topupSeq)),
		entries:    append([]points.Entry(nil), s.entries...),
		entryKeys:  make(map[entryKey]bool, len(s.entryKeys)),
		tickets:    make(map[ticket.ID]ticket.Ticket, len(s.tickets)),
		ticketSeq:  make(map[ticket.ID]int64, len(s.ticketSeq)),
		files:      append([]ticket.File(nil), s.files...),
		comments:   append([]ticket.Comment(nil), s.comments...),
		seq:        s.seq,
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.ownerships {
		c.ownerships[k] = v
	}
	for k, v := range s.topups {
		c.topups[k] = v
	}
	for k, v := range s.topupSeq {
		c.topupSeq[k] = v
	}
	for k, v := range s.entryKeys {
		c.entryKeys[k] = v
	}
	for k, v := range s.tickets {
		c.tickets[k] = v
	}
	for k, v := range s.ticketSeq {
		c.ticketSeq[k] = v
	}
	return c
}

// =============================================================================
// STORE
// =============================================================================

type Store struct {
	mu sync.RWMutex
	s  *state
}

var (
	_ points.Store = (*Store)(nil)
	_ ticket.Store = (*Store)(nil)
)

func New() *Store {
	return &Store{s: newState()}
}

// Ping and Close let the memory store stand in for a database backend.
func (m *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (m *Store) Close() error { return nil }

func (m *Store) GetAccount(_ context.Context, id points.AccountID) (*points.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.s.accounts[id]
	if !ok {
		return nil, points.ErrAccountNotFound
	}
	return &a, nil
}

func (m *Store) EnsureAccount(_ context.Context, acct points.Account) (*points.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.s.accounts[acct.ID]; ok {
		return &a, nil
	}
	m.s.accounts[acct.ID] = acct
	return &acct, nil
}

func (m *Store) GetProduct(_ context.Context, id points.ProductID) (*points.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s.product(id)
}

func (s *state) product(id points.ProductID) (*points.Product, error) {
	p, ok := s.products[id]
	if !ok {
		return nil, points.ErrProductNotFound
	}
	return &p, nil
}

func (m *Store) ListProducts(_ context.Context) ([]points.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]points.Product, 0, len(m.s.products))
	for _, p := range m.s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Store) CreateProduct(_ context.Context, p *points.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = points.ProductID(m.s.next())
	m.s.products[p.ID] = *p
	return nil
}

func (m *Store) UpdateProduct(_ context.Context, p points.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.s.products[p.ID]
	if !ok {
		return points.ErrProductNotFound
	}
	p.CreatedAt = old.CreatedAt
	m.s.products[p.ID] = p
	return nil
}

func (m *Store) ListTopUps(_ context.Context, f points.TopUpFilter) ([]points.TopUpRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []points.TopUpRequest{}
	for _, r := range m.s.topups {
		if f.UserID != nil && r.UserID != *f.UserID {
			continue
		}
		if f.Status != nil && r.Status != *f.Status {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return m.s.topupSeq[out[i].ID] > m.s.topupSeq[out[j].ID]
	})
	return out, nil
}

func (m *Store) ListOwnedProducts(_ context.Context, id points.AccountID) ([]points.OwnedProduct, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []points.OwnedProduct{}
	for _, o := range m.s.ownerships {
		if o.UserID != id {
			continue
		}
		op := points.OwnedProduct{Ownership: o}
		if p, ok := m.s.products[o.ProductID]; ok {
			op.Title, op.Description, op.Image = p.Title, p.Description, p.Image
		}
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PurchasedAt.Equal(out[j].PurchasedAt) {
			return out[i].PurchasedAt.After(out[j].PurchasedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (m *Store) ListEntries(_ context.Context, id points.AccountID, limit int) ([]points.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []points.Entry{}
	for i := len(m.s.entries) - 1; i >= 0; i-- {
		if m.s.entries[i].AccountID != id {
			continue
		}
		out = append(out, m.s.entries[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// WithTx executes fn within a transaction, simulated with a snapshot and
// restore on error.
func (m *Store) WithTx(ctx context.Context, fn func(points.Tx) error) error {
	return m.atomically(ctx, func(s *state) error {
		return fn(&pointsTx{s: s})
	})
}

func (m *Store) WithTicketTx(ctx context.Context, fn func(ticket.Tx) error) error {
	return m.atomically(ctx, func(s *state) error {
		return fn(&ticketTx{s: s})
	})
}

func (m *Store) atomically(ctx context.Context, fn func(*state) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.s.clone()
	if err := fn(m.s); err != nil {
		m.s = snapshot
		return err
	}
	if err := ctx.Err(); err != nil {
		m.s = snapshot
		return err
	}
	return nil
}

// =============================================================================
// POINTS TX
// =============================================================================

type pointsTx struct {
	s *state
}

func (tx *pointsTx) LockAccount(_ context.Context, id points.AccountID) (*points.Account, error) {
	a, ok := tx.s.accounts[id]
	if !ok {
		return nil, points.ErrAccountNotFound
	}
	return &a, nil
}

func (tx *pointsTx) GetProduct(_ context.Context, id points.ProductID) (*points.Product, error) {
	return tx.s.product(id)
}

func (tx *pointsTx) DebitPoints(_ context.Context, id points.AccountID, amount int64) (int64, error) {
	a, ok := tx.s.accounts[id]
	if !ok {
		return 0, points.ErrAccountNotFound
	}
	if a.Points < amount {
		return 0, points.ErrInsufficientFunds
	}
	a.Points -= amount
	tx.s.accounts[id] = a
	return a.Points, nil
}

func (tx *pointsTx) CreditPoints(_ context.Context, id points.AccountID, amount int64) (int64, error) {
	a, ok := tx.s.accounts[id]
	if !ok {
		return 0, points.ErrAccountNotFound
	}
	a.Points += amount
	tx.s.accounts[id] = a
	return a.Points, nil
}

func (tx *pointsTx) InsertOwnership(_ context.Context, o *points.Ownership) error {
	o.ID = points.OwnershipID(tx.s.next())
	tx.s.ownerships[o.ID] = *o
	return nil
}

func (tx *pointsTx) GetOwnership(_ context.Context, id points.OwnershipID) (*points.Ownership, error) {
	o, ok := tx.s.ownerships[id]
	if !ok {
		return nil, points.ErrOwnershipNotFound
	}
	return &o, nil
}

func (tx *pointsTx) SetServerBinding(_ context.Context, id points.OwnershipID, address string, at time.Time) error {
	o, ok := tx.s.ownerships[id]
	if !ok {
		return points.ErrOwnershipNotFound
	}
	o.ServerBinding = &address
	o.BindingUpdatedAt = &at
	tx.s.ownerships[id] = o
	return nil
}

func (tx *pointsTx) InsertTopUp(_ context.Context, r *points.TopUpRequest) error {
	if _, ok := tx.s.accounts[r.UserID]; !ok {
		return points.ErrAccountNotFound
	}
	tx.s.topups[r.ID] = *r
	tx.s.topupSeq[r.ID] = tx.s.next()
	return nil
}

func (tx *pointsTx) LockTopUp(_ context.Context, id points.TopUpID) (*points.TopUpRequest, error) {
	r, ok := tx.s.topups[id]
	if !ok {
		return nil, points.ErrRequestNotFound
	}
	return &r, nil
}

func (tx *pointsTx) ResolveTopUp(_ context.Context, id points.TopUpID, status points.TopUpStatus, by points.AccountID, at time.Time) error {
	r, ok := tx.s.topups[id]
	if !ok {
		return points.ErrRequestNotFound
	}
	if r.Status != points.TopUpPending {
		return points.ErrRequestAlreadyResolved
	}
	r.Status = status
	r.ResolvedAt = &at
	r.ResolvedBy = &by
	tx.s.topups[id] = r
	return nil
}

func (tx *pointsTx) AppendEntry(_ context.Context, e *points.Entry) error {
	k := entryKey{kind: e.Kind, ref: e.ReferenceID}
	if tx.s.entryKeys[k] {
		return points.ErrDuplicateEntry
	}
	e.ID = tx.s.next()
	tx.s.entries = append(tx.s.entries, *e)
	tx.s.entryKeys[k] = true
	return nil
}

// =============================================================================
// TICKETS
// =============================================================================

func (m *Store) GetTicket(_ context.Context, id ticket.ID) (*ticket.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.s.tickets[id]
	if !ok {
		return nil, ticket.ErrTicketNotFound
	}
	return &t, nil
}

func (m *Store) ListTickets(_ context.Context, f ticket.Filter) ([]ticket.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []ticket.Ticket{}
	for _, t := range m.s.tickets {
		if f.UserID != nil && t.UserID != *f.UserID {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return m.s.ticketSeq[out[i].ID] > m.s.ticketSeq[out[j].ID]
	})
	return out, nil
}

func (m *Store) ListFiles(_ context.Context, id ticket.ID) ([]ticket.File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []ticket.File{}
	for _, f := range m.s.files {
		if f.TicketID == id {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *Store) ListComments(_ context.Context, id ticket.ID) ([]ticket.Comment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []ticket.Comment{}
	for _, c := range m.s.comments {
		if c.TicketID == id {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Store) CountByStatus(_ context.Context) (map[ticket.Status]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[ticket.Status]int)
	for _, t := range m.s.tickets {
		counts[t.Status]++
	}
	return counts, nil
}

type ticketTx struct {
	s *state
}

func (tx *ticketTx) InsertTicket(_ context.Context, t *ticket.Ticket) error {
	tx.s.tickets[t.ID] = *t
	tx.s.ticketSeq[t.ID] = tx.s.next()
	return nil
}

func (tx *ticketTx) InsertFile(_ context.Context, f *ticket.File) error {
	if _, ok := tx.s.tickets[f.TicketID]; !ok {
		return ticket.ErrTicketNotFound
	}
	f.ID = tx.s.next()
	tx.s.files = append(tx.s.files, *f)
	return nil
}

func (tx *ticketTx) InsertComment(_ context.Context, c *ticket.Comment) error {
	if _, ok := tx.s.tickets[c.TicketID]; !ok {
		return ticket.ErrTicketNotFound
	}
	c.ID = tx.s.next()
	tx.s.comments = append(tx.s.comments, *c)
	return nil
}

func (tx *ticketTx) SetStatus(_ context.Context, id ticket.ID, status ticket.Status, at time.Time) error {
	t, ok := tx.s.tickets[id]
	if !ok {
		return ticket.ErrTicketNotFound
	}
	t.Status = status
	t.UpdatedAt = at
	tx.s.tickets[id] = t
	return nil
}
