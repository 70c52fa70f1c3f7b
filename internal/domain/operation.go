package domain

import "fmt"

// OperationKind is the closed set of ledger record kinds.
type OperationKind uint8

const (
	OpWithdraw OperationKind = iota + 1
	OpDeposit
	OpTransferOut
	OpTransferIn
	OpPINChange
	OpAdminTransferOut
	OpAdminTransferIn
)

var operationCodes = map[OperationKind]string{
	OpWithdraw:         "withdraw",
	OpDeposit:          "deposit",
	OpTransferOut:      "transfer_out",
	OpTransferIn:       "transfer_in",
	OpPINChange:        "pin_change",
	OpAdminTransferOut: "admin_transfer_out",
	OpAdminTransferIn:  "admin_transfer_in",
}

var operationLabels = map[OperationKind]string{
	OpWithdraw:         "Cash withdrawal",
	OpDeposit:          "Deposit",
	OpTransferOut:      "Transfer sent",
	OpTransferIn:       "Transfer received",
	OpPINChange:        "PIN changed",
	OpAdminTransferOut: "Bank transfer sent",
	OpAdminTransferIn:  "Bank transfer received",
}

// String returns the stable code persisted in the transaction log.
func (k OperationKind) String() string {
	if code, ok := operationCodes[k]; ok {
		return code
	}
	return fmt.Sprintf("OperationKind(%d)", uint8(k))
}

// Label returns receipt text for the kind.
func (k OperationKind) Label() string {
	if label, ok := operationLabels[k]; ok {
		return label
	}
	return k.String()
}

// Valid reports whether k is one of the declared kinds.
func (k OperationKind) Valid() bool {
	_, ok := operationCodes[k]
	return ok
}

// ParseOperationKind maps a persisted code back to its kind.
func ParseOperationKind(code string) (OperationKind, error) {
	for kind, c := range operationCodes {
		if c == code {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownOperation, code)
}

func (k OperationKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownOperation, uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *OperationKind) UnmarshalText(text []byte) error {
	parsed, err := ParseOperationKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
