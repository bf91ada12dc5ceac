package domain

import "time"

// ─── Ledger Entries ─────────────────────────────────────────────────────────
// Every committed transaction appends one entry per state change. Entries are
// the audit trail and the payload of published events.

// EntryType represents the business reason for a ledger entry.
type EntryType string

const (
	EntryMint       EntryType = "MINT"
	EntryIssue      EntryType = "ISSUE"
	EntryFeeDeposit EntryType = "FEE_DEPOSIT"
	EntryDeposit    EntryType = "DEPOSIT"
	EntryLevel      EntryType = "LEVEL"
)

// LedgerEntry is a single row in the membership ledger.
type LedgerEntry struct {
	ID            int64     `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Type          EntryType `json:"type"`
	Registry      Address   `json:"registry,omitempty"`
	Resource      Address   `json:"resource,omitempty"`
	Account       Address   `json:"account,omitempty"`
	Amount        uint64    `json:"amount"`
	CertificateID uint64    `json:"certificate_id,omitempty"`
	Task          TaskKind  `json:"task,omitempty"`
	Description   string    `json:"description,omitempty"`
}
