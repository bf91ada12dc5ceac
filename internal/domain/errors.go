package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure and carry no infrastructure dependency. Every one of them
// aborts the transaction it is returned from.

var (
	// Authorization errors
	ErrAuthorizationDenied = errors.New("authorization denied")
	ErrAlreadyMember       = errors.New("account already holds a membership certificate")

	// Identity errors
	ErrDuplicateIdentity   = errors.New("certificate id already minted")
	ErrCertificateNotFound = errors.New("certificate not found")

	// Runtime errors
	ErrResourceAllocationExhausted = errors.New("ledger runtime cannot allocate a new address")
	ErrNoTransaction               = errors.New("operation requires an open transaction")
	ErrRegistryNotFound            = errors.New("registry not found")
	ErrUnknownResource             = errors.New("resource is not registered with the runtime")
	ErrInvalidBucket               = errors.New("bucket was not minted in this transaction")

	// Request errors
	ErrUnknownTask       = errors.New("unknown task kind")
	ErrInvalidTask       = errors.New("invalid task")
	ErrInvalidAccount    = errors.New("account address is required")
	ErrAmountExceedsCap  = errors.New("reward amount exceeds configured cap")
	ErrWrongResourceKind = errors.New("operation not supported for resource kind")
	ErrSupplyOverflow    = errors.New("supply would overflow")
)
