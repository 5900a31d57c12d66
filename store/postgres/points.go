package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/warp/points-engine/points"
)

// =============================================================================
// ACCOUNTS
// =============================================================================

const accountColumns = `id, name, email, points, role, created_at`

func scanAccount(row pgx.Row) (*points.Account, error) {
	var (
		a        points.Account
		id, role string
	)
	if err := row.Scan(&id, &a.Name, &a.Email, &a.Points, &role, &a.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, points.ErrAccountNotFound
		}
		return nil, err
	}
	a.ID = points.AccountID(id)
	a.Role = points.Role(role)
	a.CreatedAt = a.CreatedAt.UTC()
	return &a, nil
}

func (s *Store) GetAccount(ctx context.Context, id points.AccountID) (*points.Account, error) {
	return scanAccount(s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM users WHERE id = $1`, string(id)))
}

func (s *Store) EnsureAccount(ctx context.Context, acct points.Account) (*points.Account, error) {
	role := acct.Role
	if role == "" {
		role = points.RoleUser
	}
	created := acct.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, name, email, points, role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		string(acct.ID), acct.Name, acct.Email, acct.Points, string(role), created.UTC())
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}
	return s.GetAccount(ctx, acct.ID)
}

// =============================================================================
// CATALOG
// =============================================================================

const productColumns = `id, title, category, description, points, image, video_url, version, details, requirements, created_at, updated_at`

func scanProduct(row pgx.Row) (*points.Product, error) {
	var (
		p  points.Product
		id int64
	)
	err := row.Scan(&id, &p.Title, &p.Category, &p.Description, &p.PointsPrice,
		&p.Image, &p.VideoURL, &p.Version, &p.Details, &p.Requirements, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, points.ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	p.ID = points.ProductID(id)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func getProduct(ctx context.Context, q querier, id points.ProductID) (*points.Product, error) {
	return scanProduct(q.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, int64(id)))
}

func (s *Store) GetProduct(ctx context.Context, id points.ProductID) (*points.Product, error) {
	return getProduct(ctx, s.pool, id)
}

func (s *Store) ListProducts(ctx context.Context) ([]points.Product, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
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
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO products (title, category, description, points, image, video_url, version, details, requirements, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		p.Title, p.Category, p.Description, p.PointsPrice, p.Image, p.VideoURL,
		p.Version, p.Details, p.Requirements, p.CreatedAt.UTC(), p.UpdatedAt.UTC()).Scan(&id)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	p.ID = points.ProductID(id)
	return nil
}

func (s *Store) UpdateProduct(ctx context.Context, p points.Product) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE products
		SET title = $1, category = $2, description = $3, points = $4, image = $5, video_url = $6,
		    version = $7, details = $8, requirements = $9, updated_at = $10
		WHERE id = $11`,
		p.Title, p.Category, p.Description, p.PointsPrice, p.Image, p.VideoURL,
		p.Version, p.Details, p.Requirements, p.UpdatedAt.UTC(), int64(p.ID))
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return points.ErrProductNotFound
	}
	return nil
}

// =============================================================================
// LIST QUERIES
// =============================================================================

const topUpColumns = `id, user_id, amount::text, points, payment_method, proof_reference, transaction_date, status, created_at, resolved_at, resolved_by`

func scanTopUp(row pgx.Row) (*points.TopUpRequest, error) {
	var (
		r                      points.TopUpRequest
		id, userID             string
		amount, method, status string
		resolvedBy             *string
	)
	err := row.Scan(&id, &userID, &amount, &r.Points, &method, &r.ProofRef,
		&r.TransactionAt, &status, &r.CreatedAt, &r.ResolvedAt, &resolvedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, points.ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}
	if r.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	r.ID = points.TopUpID(id)
	r.UserID = points.AccountID(userID)
	r.Method = points.PaymentMethod(method)
	r.Status = points.TopUpStatus(status)
	r.TransactionAt = r.TransactionAt.UTC()
	r.CreatedAt = r.CreatedAt.UTC()
	r.ResolvedAt = utcPtr(r.ResolvedAt)
	if resolvedBy != nil {
		by := points.AccountID(*resolvedBy)
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
		args = append(args, string(*f.UserID))
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.Status != nil {
		args = append(args, string(*f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + topUpColumns + ` FROM topup_requests`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
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

func scanOwnership(dst *points.Ownership, row pgx.Row, extra ...any) error {
	var (
		id, productID  int64
		userID, status string
	)
	dest := append([]any{&id, &userID, &productID, &dst.PurchasedAt, &status, &dst.ServerBinding, &dst.BindingUpdatedAt}, extra...)
	err := row.Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return points.ErrOwnershipNotFound
	}
	if err != nil {
		return err
	}
	dst.ID = points.OwnershipID(id)
	dst.UserID = points.AccountID(userID)
	dst.ProductID = points.ProductID(productID)
	dst.Status = points.OwnershipStatus(status)
	dst.PurchasedAt = dst.PurchasedAt.UTC()
	dst.BindingUpdatedAt = utcPtr(dst.BindingUpdatedAt)
	return nil
}

func (s *Store) ListOwnedProducts(ctx context.Context, id points.AccountID) ([]points.OwnedProduct, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ownershipColumns+`, p.title, p.description, p.image
		FROM user_products up
		JOIN products p ON p.id = up.product_id
		WHERE up.user_id = $1
		ORDER BY up.purchase_date DESC, up.id DESC`, string(id))
	if err != nil {
		return nil, fmt.Errorf("list owned products: %w", err)
	}
	defer rows.Close()

	out := []points.OwnedProduct{}
	for rows.Next() {
		var op points.OwnedProduct
		if err := scanOwnership(&op.Ownership, rows, &op.Title, &op.Description, &op.Image); err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

func (s *Store) ListEntries(ctx context.Context, id points.AccountID, limit int) ([]points.Entry, error) {
	query := `SELECT id, user_id, delta, kind, reference_id, balance_after, created_at
		FROM ledger_entries WHERE user_id = $1 ORDER BY id DESC`
	args := []any{string(id)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	out := []points.Entry{}
	for rows.Next() {
		var (
			e            points.Entry
			userID, kind string
		)
		if err := rows.Scan(&e.ID, &userID, &e.Delta, &kind, &e.ReferenceID, &e.BalanceAfter, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.AccountID = points.AccountID(userID)
		e.Kind = points.EntryKind(kind)
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// POINTS TX
// =============================================================================

type pointsTx struct {
	q querier
}

func (tx *pointsTx) LockAccount(ctx context.Context, id points.AccountID) (*points.Account, error) {
	return scanAccount(tx.q.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM users WHERE id = $1 FOR UPDATE`, string(id)))
}

func (tx *pointsTx) GetProduct(ctx context.Context, id points.ProductID) (*points.Product, error) {
	return getProduct(ctx, tx.q, id)
}

func (tx *pointsTx) DebitPoints(ctx context.Context, id points.AccountID, amount int64) (int64, error) {
	var balance int64
	err := tx.q.QueryRow(ctx,
		`UPDATE users SET points = points - $1 WHERE id = $2 AND points >= $1 RETURNING points`,
		amount, string(id)).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists int
		err := tx.q.QueryRow(ctx, `SELECT 1 FROM users WHERE id = $1`, string(id)).Scan(&exists)
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, points.ErrAccountNotFound
		}
		if err != nil {
			return 0, err
		}
		return 0, points.ErrInsufficientFunds
	}
	if err != nil {
		return 0, fmt.Errorf("debit points: %w", err)
	}
	return balance, nil
}

func (tx *pointsTx) CreditPoints(ctx context.Context, id points.AccountID, amount int64) (int64, error) {
	var balance int64
	err := tx.q.QueryRow(ctx,
		`UPDATE users SET points = points + $1 WHERE id = $2 RETURNING points`,
		amount, string(id)).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, points.ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("credit points: %w", err)
	}
	return balance, nil
}

func (tx *pointsTx) InsertOwnership(ctx context.Context, o *points.Ownership) error {
	var id int64
	err := tx.q.QueryRow(ctx, `
		INSERT INTO user_products (user_id, product_id, purchase_date, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		string(o.UserID), int64(o.ProductID), o.PurchasedAt.UTC(), string(o.Status)).Scan(&id)
	if err != nil {
		return fmt.Errorf("insert ownership: %w", err)
	}
	o.ID = points.OwnershipID(id)
	return nil
}

func (tx *pointsTx) GetOwnership(ctx context.Context, id points.OwnershipID) (*points.Ownership, error) {
	var o points.Ownership
	row := tx.q.QueryRow(ctx,
		`SELECT `+ownershipColumns+` FROM user_products up WHERE up.id = $1 FOR UPDATE`, int64(id))
	if err := scanOwnership(&o, row); err != nil {
		return nil, err
	}
	return &o, nil
}

func (tx *pointsTx) SetServerBinding(ctx context.Context, id points.OwnershipID, address string, at time.Time) error {
	tag, err := tx.q.Exec(ctx,
		`UPDATE user_products SET ip_server = $1, last_ip_update = $2 WHERE id = $3`,
		address, at.UTC(), int64(id))
	if err != nil {
		return fmt.Errorf("set server binding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return points.ErrOwnershipNotFound
	}
	return nil
}

func (tx *pointsTx) InsertTopUp(ctx context.Context, r *points.TopUpRequest) error {
	var resolvedBy *string
	if r.ResolvedBy != nil {
		by := string(*r.ResolvedBy)
		resolvedBy = &by
	}
	_, err := tx.q.Exec(ctx, `
		INSERT INTO topup_requests (id, user_id, amount, points, payment_method, proof_reference,
			transaction_date, status, created_at, resolved_at, resolved_by)
		VALUES ($1, $2, $3::text::numeric, $4, $5, $6, $7, $8, $9, $10, $11)`,
		string(r.ID), string(r.UserID), r.Amount.String(), r.Points, string(r.Method), r.ProofRef,
		r.TransactionAt.UTC(), string(r.Status), r.CreatedAt.UTC(), utcPtr(r.ResolvedAt), resolvedBy)
	if err != nil {
		return fmt.Errorf("insert top-up: %w", err)
	}
	return nil
}

func (tx *pointsTx) LockTopUp(ctx context.Context, id points.TopUpID) (*points.TopUpRequest, error) {
	return scanTopUp(tx.q.QueryRow(ctx,
		`SELECT `+topUpColumns+` FROM topup_requests WHERE id = $1 FOR UPDATE`, string(id)))
}

func (tx *pointsTx) ResolveTopUp(ctx context.Context, id points.TopUpID, status points.TopUpStatus, by points.AccountID, at time.Time) error {
	tag, err := tx.q.Exec(ctx, `
		UPDATE topup_requests SET status = $1, resolved_at = $2, resolved_by = $3
		WHERE id = $4 AND status = $5`,
		string(status), at.UTC(), string(by), string(id), string(points.TopUpPending))
	if err != nil {
		return fmt.Errorf("resolve top-up: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists int
	err = tx.q.QueryRow(ctx, `SELECT 1 FROM topup_requests WHERE id = $1`, string(id)).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return points.ErrRequestNotFound
	}
	if err != nil {
		return err
	}
	return points.ErrRequestAlreadyResolved
}

// AppendEntry uses ON CONFLICT so a duplicate does not abort the
// surrounding transaction.
func (tx *pointsTx) AppendEntry(ctx context.Context, e *points.Entry) error {
	var id int64
	err := tx.q.QueryRow(ctx, `
		INSERT INTO ledger_entries (user_id, delta, kind, reference_id, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (kind, reference_id) DO NOTHING
		RETURNING id`,
		string(e.AccountID), e.Delta, string(e.Kind), e.ReferenceID, e.BalanceAfter, e.CreatedAt.UTC()).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err) {
		return points.ErrDuplicateEntry
	}
	if err != nil {
		return fmt.Errorf("append entry: %w", err)
	}
	e.ID = id
	return nil
}
