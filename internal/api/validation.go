package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/tutu-network/memberledger/internal/domain"
)

const maxBodyBytes = 1 << 20

var errInvalidLimit = errors.New("limit must be a positive integer")

// ─── Request Bodies ─────────────────────────────────────────────────────────

type accountRequest struct {
	Account string `json:"account" validate:"required,ledger_account"`
}

type rewardRequest struct {
	Account string             `json:"account" validate:"required,ledger_account"`
	Task    domain.TaskRequest `json:"task"`
}

type feeRequest struct {
	Account string `json:"account" validate:"omitempty,ledger_account"`
	Amount  uint64 `json:"amount"`
}

type levelRequest struct {
	Signer string `json:"signer" validate:"required,ledger_account"`
	Level  string `json:"level" validate:"required,max=64"`
}

// ─── Validator ──────────────────────────────────────────────────────────────

type requestValidator struct {
	validate *validator.Validate
}

func newRequestValidator() *requestValidator {
	v := validator.New()
	v.RegisterValidation("ledger_account", validateAccount)
	return &requestValidator{validate: v}
}

// validateAccount accepts 1 to 128 printable characters without spaces.
func validateAccount(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" || len(s) > 128 {
		return false
	}
	for _, r := range s {
		if unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

// decode reads a JSON body into dst and validates it.
func (rv *requestValidator) decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := rv.validate.Struct(dst); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			return errors.New(describe(ve))
		}
		return err
	}
	return nil
}

func describe(ve validator.ValidationErrors) string {
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", field, fe.Param()))
		case "ledger_account":
			msgs = append(msgs, field+" is not a valid account address")
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

// ─── Error Mapping ──────────────────────────────────────────────────────────

// statusFor maps a ledger error to an HTTP status and error type.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrAuthorizationDenied):
		return http.StatusForbidden, "authorization_denied"
	case errors.Is(err, domain.ErrAlreadyMember):
		return http.StatusConflict, "already_member"
	case errors.Is(err, domain.ErrDuplicateIdentity):
		return http.StatusConflict, "duplicate_identity"
	case errors.Is(err, domain.ErrCertificateNotFound):
		return http.StatusNotFound, "certificate_not_found"
	case errors.Is(err, domain.ErrRegistryNotFound):
		return http.StatusNotFound, "registry_not_found"
	case errors.Is(err, domain.ErrAmountExceedsCap):
		return http.StatusUnprocessableEntity, "amount_exceeds_cap"
	case errors.Is(err, domain.ErrUnknownTask), errors.Is(err, domain.ErrInvalidTask):
		return http.StatusUnprocessableEntity, "invalid_task"
	case errors.Is(err, domain.ErrSupplyOverflow):
		return http.StatusUnprocessableEntity, "supply_overflow"
	case errors.Is(err, domain.ErrInvalidAccount):
		return http.StatusBadRequest, "invalid_account"
	case errors.Is(err, domain.ErrResourceAllocationExhausted):
		return http.StatusServiceUnavailable, "allocation_exhausted"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
