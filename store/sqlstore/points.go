package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/points-engine/points"
)

// =============================================================================
// ACCOUNTS
// =============================================================================

const accountColumns = `id, name, email, points, role, created_at`

func scanAccount(row interface{ Scan(...any) error }) (*points.Account, error) {
	var (
		a       points.Account
		role    string
		created string
	)
	if err := row.Scan(&a.ID, &a.Name, &a.Email, &a.Points, &role, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, points.ErrAccountNotFound
		}
		return nil, err
	}
	a.Role = points.Role(role)
	t, err := parseTime(created)
	if err != nil {
		return nil, err
	}
	a.CreatedAt = t
	return &a, nil
}

func (s *Store) GetAccount(ctx context.Context, id points.AccountID) (*points.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM users WHERE id = ?`, string(id)))
}

func (s *Store) EnsureAccount(ctx context.Context, acct points.Account) (*points.Account, error) {
	role := acct.Role
	if role == "" {
		role = points.RoleUser
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, points, role, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		string(acct.ID), acct.Name, acct.Email, acct.Points, string(role), formatTime(acct.CreatedAt))
	if err != nil && !s.unique(err) {
		return nil, fmt.Errorf("insert account: %w", err)
	}
	return s.GetAccount(ctx, acct.ID)
}

// =============================================================================
// CATALOG
// =============================================================================

const productColumns = `id, title, category, description, points, image, video_url, version, details, requirements, created_at, updated_at`

func scanProduct(row interface{ Scan(...any) error }) (*points.Product, error) {
	var (
		p                points.Product
		created, updated string
	)
	err := row.Scan(&p.ID, &p.Title, &p.Category, &p.Description, &p.PointsPrice,
		&p.Image, &p.VideoURL, &p.Version, &p.Details, &p.Requirements, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, points.ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	if p.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &p, nil
}

func getProduct(ctx context.Context, q queryer, id points.ProductID) (*points.Product, error) {
	return scanProduct(q.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = ?`, int64(id)))
}

func (s *Store) GetProduct(ctx context.Context, id points.ProductID) (*points.Product, error) {
	return getProduct(ctx, s.db, id)
}

func (s *Store) ListProducts(ctx context.Context) ([]points.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	out := []points.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *Store) CreateProduct(ctx context.Context, p *points.Product) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO products (title, category, description, points, image, video_url, version, details, requirements, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Title, p.Category, p.Description, p.PointsPrice, p.Image, p.VideoURL,
		p.Version, p.Details, p.Requirements, formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("product id: %w", err)
	}
	p.ID = points.ProductID(id)
	return nil
}

func (s *Store) UpdateProduct(ctx context.Context, p points.Product) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET title = ?, category = ?, description = ?, points = ?, image = ?, video_url = ?,
		    version = ?, details = ?, requirements = ?, updated_at = ?
		WHERE id = ?`,
		p.Title, p.Category, p.Description, p.PointsPrice, p.Image, p.VideoURL,
		p.Version, p.Details, p.Requirements, formatTime(p.UpdatedAt), int64(p.ID))
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return points.ErrProductNotFound
	}
	return nil
}

// =============================================================================
// LIST QUERIES
// =============================================================================

const topUpColumns = `id, user_id, amount, points, payment_method, proof_reference, transaction_date, status, created_at, resolved_at, resolved_by`

func scanTopUp(row interface{ Scan(...any) error }) (*points.TopUpRequest, error) {
	var (
		r                      points.TopUpRequest
		amount, method, status string
		txAt, created          string
		resolvedAt, resolvedBy sql.NullString
	)
	err := row.Scan(&r.ID, &r.UserID, &amount, &r.Points, &method, &r.ProofRef,
		&txAt, &status, &created, &resolvedAt, &resolvedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, points.ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}
	if r.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	r.Method = points.PaymentMethod(method)
	r.Status = points.TopUpStatus(status)
	if r.TransactionAt, err = parseTime(txAt); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if r.ResolvedAt, err = parseNullTime(resolvedAt); err != nil {
		return nil, err
	}
	if resolvedBy.Valid {
		by := points.AccountID(resolvedBy.String)
		r.ResolvedBy = &by
	}
	return &r, nil
}

func (s *Store) ListTopUps(ctx context.Context, f points.TopUpFilter) ([]points.TopUpRequest, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != nil {
		where = append(where, "user_id = ?")
		args = append(args, string(*f.UserID))
	}
	if f.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*f.Status))
	}
	query := `SELECT ` + topUpColumns + ` FROM topup_requests`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list top-ups: %w", err)
	}
	defer rows.Close()

	out := []points.TopUpRequest{}
	for rows.Next() {
		r, err := scanTopUp(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

const ownershipColumns = `up.id, up.user_id, up.product_id, up.purchase_date, up.status, up.ip_server, up.last_ip_update`

func scanOwnership(dst *points.Ownership, scan func(...any) error, extra ...any) error {
	var (
		purchased, status string
		ip, ipAt          sql.NullString
	)
	dest := append([]any{&dst.ID, &dst.UserID, &dst.ProductID, &purchased, &status, &ip, &ipAt}, extra...)
	err := scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return points.ErrOwnershipNotFound
	}
	if err != nil {
		return err
	}
	if dst.PurchasedAt, err = parseTime(purchased); err != nil {
		return err
	}
	dst.Status = points.OwnershipStatus(status)
	if ip.Valid {
		addr := ip.String
		dst.ServerBinding = &addr
	}
	dst.BindingUpdatedAt, err = parseNullTime(ipAt)
	return err
}

func (s *Store) ListOwnedProducts(ctx context.Context, id points.AccountID) ([]points.OwnedProduct, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ownershipColumns+`, p.title, p.description, p.image
		FROM user_products up
		JOIN products p ON p.id = up.product_id
		WHERE up.user_id = ?
		ORDER BY up.purchase_date DESC, up.id DESC`, string(id))
	if err != nil {
		return nil, fmt.Errorf("list owned products: %w", err)
	}
	defer rows.Close()

	out := []points.OwnedProduct{}
	for rows.Next() {
		var op points.OwnedProduct
		if err := scanOwnership(&op.Ownership, rows.Scan, &op.Title, &op.Description, &op.Image); err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

func (s *Store) ListEntries(ctx context.Context, id points.AccountID, limit int) ([]points.Entry, error) {
	query := `SELECT id, user_id, delta, kind, reference_id, balance_after, created_at
		FROM ledger_entries WHERE user_id = ? ORDER BY id DESC`
	args := []any{string(id)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	out := []points.Entry{}
	for rows.Next() {
		var (
			e             points.Entry
			kind, created string
		)
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Delta, &kind, &e.ReferenceID, &e.BalanceAfter, &created); err != nil {
			return nil, err
		}
		e.Kind = points.EntryKind(kind)
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// POINTS TX
// =============================================================================

type pointsTx struct {
	q queryer
	s *Store
}

func (tx *pointsTx) LockAccount(ctx context.Context, id points.AccountID) (*points.Account, error) {
	return scanAccount(tx.q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM users WHERE id = ?`+tx.s.d.LockSuffix, string(id)))
}

func (tx *pointsTx) GetProduct(ctx context.Context, id points.ProductID) (*points.Product, error) {
	return getProduct(ctx, tx.q, id)
}

func (tx *pointsTx) balance(ctx context.Context, id points.AccountID) (int64, error) {
	var pts int64
	err := tx.q.QueryRowContext(ctx, `SELECT points FROM users WHERE id = ?`, string(id)).Scan(&pts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, points.ErrAccountNotFound
	}
	return pts, err
}

func (tx *pointsTx) DebitPoints(ctx context.Context, id points.AccountID, amount int64) (int64, error) {
	res, err := tx.q.ExecContext(ctx,
		`UPDATE users SET points = points - ? WHERE id = ? AND points >= ?`,
		amount, string(id), amount)
	if err != nil {
		return 0, fmt.Errorf("debit points: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		if _, err := tx.balance(ctx, id); err != nil {
			return 0, err
		}
		return 0, points.ErrInsufficientFunds
	}
	return tx.balance(ctx, id)
}

func (tx *pointsTx) CreditPoints(ctx context.Context, id points.AccountID, amount int64) (int64, error) {
	res, err := tx.q.ExecContext(ctx, `UPDATE users SET points = points + ? WHERE id = ?`, amount, string(id))
	if err != nil {
		return 0, fmt.Errorf("credit points: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, points.ErrAccountNotFound
	}
	return tx.balance(ctx, id)
}

func (tx *pointsTx) InsertOwnership(ctx context.Context, o *points.Ownership) error {
	res, err := tx.q.ExecContext(ctx, `
		INSERT INTO user_products (user_id, product_id, purchase_date, status)
		VALUES (?, ?, ?, ?)`,
		string(o.UserID), int64(o.ProductID), formatTime(o.PurchasedAt), string(o.Status))
	if err != nil {
		return fmt.Errorf("insert ownership: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("ownership id: %w", err)
	}
	o.ID = points.OwnershipID(id)
	return nil
}

func (tx *pointsTx) GetOwnership(ctx context.Context, id points.OwnershipID) (*points.Ownership, error) {
	var o points.Ownership
	row := tx.q.QueryRowContext(ctx,
		`SELECT `+ownershipColumns+` FROM user_products up WHERE up.id = ?`+tx.s.d.LockSuffix, int64(id))
	if err := scanOwnership(&o, row.Scan); err != nil {
		return nil, err
	}
	return &o, nil
}

func (tx *pointsTx) SetServerBinding(ctx context.Context, id points.OwnershipID, address string, at time.Time) error {
	res, err := tx.q.ExecContext(ctx,
		`UPDATE user_products SET ip_server = ?, last_ip_update = ? WHERE id = ?`,
		address, formatTime(at), int64(id))
	if err != nil {
		return fmt.Errorf("set server binding: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return points.ErrOwnershipNotFound
	}
	return nil
}

func (tx *pointsTx) InsertTopUp(ctx context.Context, r *points.TopUpRequest) error {
	_, err := tx.q.ExecContext(ctx, `
		INSERT INTO topup_requests (`+topUpColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(r.ID), string(r.UserID), r.Amount.String(), r.Points, string(r.Method), r.ProofRef,
		formatTime(r.TransactionAt), string(r.Status), formatTime(r.CreatedAt),
		nullTime(r.ResolvedAt), nullAccount(r.ResolvedBy))
	if err != nil {
		return fmt.Errorf("insert top-up: %w", err)
	}
	return nil
}

func nullAccount(id *points.AccountID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return nullString(string(*id))
}

func (tx *pointsTx) LockTopUp(ctx context.Context, id points.TopUpID) (*points.TopUpRequest, error) {
	return scanTopUp(tx.q.QueryRowContext(ctx,
		`SELECT `+topUpColumns+` FROM topup_requests WHERE id = ?`+tx.s.d.LockSuffix, string(id)))
}

func (tx *pointsTx) ResolveTopUp(ctx context.Context, id points.TopUpID, status points.TopUpStatus, by points.AccountID, at time.Time) error {
	res, err := tx.q.ExecContext(ctx, `
		UPDATE topup_requests SET status = ?, resolved_at = ?, resolved_by = ?
		WHERE id = ? AND status = ?`,
		string(status), formatTime(at), string(by), string(id), string(points.TopUpPending))
	if err != nil {
		return fmt.Errorf("resolve top-up: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var exists int
	err = tx.q.QueryRowContext(ctx, `SELECT 1 FROM topup_requests WHERE id = ?`, string(id)).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return points.ErrRequestNotFound
	}
	if err != nil {
		return err
	}
	return points.ErrRequestAlreadyResolved
}

func (tx *pointsTx) AppendEntry(ctx context.Context, e *points.Entry) error {
	res, err := tx.q.ExecContext(ctx, `
		INSERT INTO ledger_entries (user_id, delta, kind, reference_id, balance_after, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(e.AccountID), e.Delta, string(e.Kind), e.ReferenceID, e.BalanceAfter, formatTime(e.CreatedAt))
	if tx.s.unique(err) {
		return points.ErrDuplicateEntry
	}
	if err != nil {
		return fmt.Errorf("append entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("entry id: %w", err)
	}
	e.ID = id
	return nil
}
