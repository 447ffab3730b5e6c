package domain

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Method identifies how a payment is settled.
type Method string

const (
	MethodInstantMobile      Method = "INSTANT_MOBILE"
	MethodReferenceATM       Method = "REFERENCE_ATM"
	MethodManualCash         Method = "MANUAL_CASH"
	MethodManualBankTransfer Method = "MANUAL_BANK_TRANSFER"
	MethodManualMunicipality Method = "MANUAL_MUNICIPALITY"
)

// Value implements driver.Valuer for Method.
func (m Method) Value() (driver.Value, error) {
	return string(m), nil
}

// Scan implements sql.Scanner for Method.
func (m *Method) Scan(value interface{}) error {
	strVal, ok := value.(string)
	if !ok {
		bytesVal, ok := value.([]byte)
		if !ok {
			return fmt.Errorf("failed to scan Method: value is %T, not string or []byte", value)
		}
		strVal = string(bytesVal)
	}
	*m = Method(strVal)
	switch *m {
	case MethodInstantMobile, MethodReferenceATM, MethodManualCash, MethodManualBankTransfer, MethodManualMunicipality:
		return nil
	default:
		return fmt.Errorf("unknown Method value: %s", strVal)
	}
}

// IsManual reports whether settlement requires human validation.
func (m Method) IsManual() bool {
	switch m {
	case MethodManualCash, MethodManualBankTransfer, MethodManualMunicipality:
		return true
	}
	return false
}

// IsKnown reports whether m is one of the supported methods.
func (m Method) IsKnown() bool {
	switch m {
	case MethodInstantMobile, MethodReferenceATM, MethodManualCash, MethodManualBankTransfer, MethodManualMunicipality:
		return true
	}
	return false
}

// Status is the transaction lifecycle state.
type Status string

const (
	StatusCreated           Status = "CREATED"
	StatusPending           Status = "PENDING"
	StatusPendingValidation Status = "PENDING_VALIDATION"
	StatusSuccess           Status = "SUCCESS"
	StatusDeclined          Status = "DECLINED"
	StatusExpired           Status = "EXPIRED"
)

// Value implements driver.Valuer for Status.
func (s Status) Value() (driver.Value, error) {
	return string(s), nil
}

// Scan implements sql.Scanner for Status.
func (s *Status) Scan(value interface{}) error {
	strVal, ok := value.(string)
	if !ok {
		bytesVal, ok := value.([]byte)
		if !ok {
			return fmt.Errorf("failed to scan Status: value is %T, not string or []byte", value)
		}
		strVal = string(bytesVal)
	}
	*s = Status(strVal)
	switch *s {
	case StatusCreated, StatusPending, StatusPendingValidation, StatusSuccess, StatusDeclined, StatusExpired:
		return nil
	default:
		return fmt.Errorf("unknown Status value: %s", strVal)
	}
}

// IsTerminal reports whether no further transition is permitted from s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusDeclined, StatusExpired:
		return true
	}
	return false
}

// IsKnown reports whether s is one of the defined statuses.
func (s Status) IsKnown() bool {
	switch s {
	case StatusCreated, StatusPending, StatusPendingValidation, StatusSuccess, StatusDeclined, StatusExpired:
		return true
	}
	return false
}

// transitions is the full set of permitted status moves.
var transitions = map[Status]map[Status]bool{
	StatusCreated: {
		StatusPending:           true,
		StatusPendingValidation: true,
	},
	StatusPending: {
		StatusSuccess:  true,
		StatusDeclined: true,
		StatusExpired:  true,
	},
	StatusPendingValidation: {
		StatusSuccess:  true,
		StatusDeclined: true,
	},
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

// ReferenceData carries the credentials issued for an ATM-reference payment.
// Immutable once assigned to a transaction.
type ReferenceData struct {
	Entity    string    `json:"entity"`
	Reference string    `json:"reference"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Transaction is the unit of state the orchestration core drives.
// The GatewayTransactionID is assigned exclusively by the checkout phase; all
// status operations require it.
type Transaction struct {
	ID                   uuid.UUID       `json:"id"`
	DocumentID           string          `json:"document_id"`
	Amount               decimal.Decimal `json:"amount"`
	Method               Method          `json:"method"`
	Status               Status          `json:"status"`
	GatewayTransactionID *string         `json:"gateway_transaction_id,omitempty"`
	Reference            *ReferenceData  `json:"reference,omitempty"`
	ReferenceInfo        *string         `json:"reference_info,omitempty"`

	SubmittedBy *string    `json:"submitted_by,omitempty"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	ValidatedBy *string    `json:"validated_by,omitempty"`
	ValidatedAt *time.Time `json:"validated_at,omitempty"`

	StatusChangedAt time.Time `json:"status_changed_at"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ApplyStatus moves the transaction to next at instant now.
//
// A write against an already-terminal record is a no-op returning changed
// false and no error; this is what makes duplicate push delivery and a late
// poll race safe. Any other move outside the transition table fails with
// ErrInvalidStateTransition.
func (t *Transaction) ApplyStatus(next Status, now time.Time) (changed bool, err error) {
	if t.Status.IsTerminal() {
		return false, nil
	}
	if !CanTransition(t.Status, next) {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, t.Status, next)
	}
	t.Status = next
	t.StatusChangedAt = now
	t.UpdatedAt = now
	return true, nil
}

// AttachReference assigns the issued reference data. Reassignment is rejected.
func (t *Transaction) AttachReference(ref ReferenceData) error {
	if t.Reference != nil {
		return fmt.Errorf("%w: reference already assigned", ErrInvalidStateTransition)
	}
	t.Reference = &ref
	return nil
}
