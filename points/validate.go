package points

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MaxTopUpAmount is the exclusive upper bound on a top-up amount. Amounts
// are stored as NUMERIC(14,2).
var MaxTopUpAmount = decimal.New(1, 12)

// TopUpSubmission is the user's claim of an external payment.
type TopUpSubmission struct {
	Amount   decimal.Decimal
	Points   int64
	Method   PaymentMethod
	ProofRef string

	// TransactionAt must be an RFC 3339 instant.
	TransactionAt string
}

// validate checks the submission field by field and returns the parsed
// transaction time. The first failing field wins.
func (s TopUpSubmission) validate() (time.Time, error) {
	if !s.Amount.IsPositive() {
		return time.Time{}, invalid("amount", "must be greater than zero")
	}
	if !s.Amount.Equal(s.Amount.Truncate(2)) {
		return time.Time{}, invalid("amount", "must have at most two decimal places")
	}
	if !s.Amount.LessThan(MaxTopUpAmount) {
		return time.Time{}, invalid("amount", "must be less than "+MaxTopUpAmount.String())
	}
	if s.Points <= 0 {
		return time.Time{}, invalid("points", "must be greater than zero")
	}
	if !s.Method.Valid() {
		return time.Time{}, invalid("payment_method", "must be bank_transfer or true_wallet")
	}
	at, err := time.Parse(time.RFC3339, strings.TrimSpace(s.TransactionAt))
	if err != nil {
		return time.Time{}, invalid("transaction_date", "must be an RFC 3339 timestamp")
	}
	if strings.TrimSpace(s.ProofRef) == "" {
		return time.Time{}, invalid("proof_reference", "is required")
	}
	return at.UTC(), nil
}

// ProductInput carries the admin-editable product fields.
type ProductInput struct {
	Title        string
	Category     string
	Description  string
	PointsPrice  int64
	Image        string
	VideoURL     string
	Version      string
	Details      string
	Requirements string
}

func (in ProductInput) validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return invalid("title", "is required")
	}
	if in.PointsPrice <= 0 {
		return invalid("points", "must be greater than zero")
	}
	return nil
}

func (in ProductInput) apply(p *Product) {
	p.Title = strings.TrimSpace(in.Title)
	p.Category = in.Category
	p.Description = in.Description
	p.PointsPrice = in.PointsPrice
	p.Image = in.Image
	p.VideoURL = in.VideoURL
	p.Version = in.Version
	p.Details = in.Details
	p.Requirements = in.Requirements
}
