package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is a single cross-border payment to be scored.
// It exists only for the duration of one scoring call; the core never
// persists raw transactions.
type Transaction struct {
	ID                string          `json:"id"`
	SenderID          string          `json:"senderId"`
	BeneficiaryID     string          `json:"beneficiaryId"`
	Corridor          string          `json:"corridorId"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Timestamp         time.Time       `json:"timestamp"`
	DeviceFingerprint string          `json:"deviceFingerprint"`
	IsRetry           bool            `json:"isRetry"`
}

// ScoreRequest is the API request payload for POST /score.
type ScoreRequest struct {
	ID                string          `json:"id"`
	SenderID          string          `json:"sender_id"`
	BeneficiaryID     string          `json:"beneficiary_id"`
	CorridorID        string          `json:"corridor_id"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Timestamp         time.Time       `json:"timestamp"`
	DeviceFingerprint string          `json:"device_fingerprint"`
	IsRetry           bool            `json:"is_retry"`
}

// Validate checks required fields and returns an InvalidTransactionError
// naming the first violated field.
func (r *ScoreRequest) Validate() error {
	switch {
	case r.ID == "":
		return &InvalidTransactionError{Field: "id", Reason: "required"}
	case r.SenderID == "":
		return &InvalidTransactionError{Field: "sender_id", Reason: "required"}
	case r.BeneficiaryID == "":
		return &InvalidTransactionError{Field: "beneficiary_id", Reason: "required"}
	case r.CorridorID == "":
		return &InvalidTransactionError{Field: "corridor_id", Reason: "required"}
	case !r.Amount.IsPositive():
		return &InvalidTransactionError{Field: "amount", Reason: "must be positive"}
	case len(r.Currency) != 3:
		return &InvalidTransactionError{Field: "currency", Reason: "must be a 3-letter ISO 4217 code"}
	case r.Timestamp.IsZero():
		return &InvalidTransactionError{Field: "timestamp", Reason: "required"}
	}
	return nil
}

// ToTransaction converts a validated request to a Transaction.
func (r *ScoreRequest) ToTransaction() *Transaction {
	return &Transaction{
		ID:                r.ID,
		SenderID:          r.SenderID,
		BeneficiaryID:     r.BeneficiaryID,
		Corridor:          r.CorridorID,
		Amount:            r.Amount,
		Currency:          r.Currency,
		Timestamp:         r.Timestamp.UTC(),
		DeviceFingerprint: r.DeviceFingerprint,
		IsRetry:           r.IsRetry,
	}
}
