package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestOperationKindCodes(t *testing.T) {
	tests := []struct {
		kind OperationKind
		code string
	}{
		{OpWithdraw, "withdraw"},
		{OpDeposit, "deposit"},
		{OpTransferOut, "transfer_out"},
		{OpTransferIn, "transfer_in"},
		{OpPINChange, "pin_change"},
		{OpAdminTransferOut, "admin_transfer_out"},
		{OpAdminTransferIn, "admin_transfer_in"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.code {
				t.Fatalf("expected %q, got %q", tt.code, got)
			}
			parsed, err := ParseOperationKind(tt.code)
			if err != nil {
				t.Fatalf("ParseOperationKind returned error: %v", err)
			}
			if parsed != tt.kind {
				t.Fatalf("expected %v, got %v", tt.kind, parsed)
			}
			if tt.kind.Label() == tt.code {
				t.Fatalf("expected a display label distinct from the stored code for %q", tt.code)
			}
		})
	}
}

func TestParseOperationKindRejectsUnknown(t *testing.T) {
	if _, err := ParseOperationKind("refund"); !errors.Is(err, ErrUnknownOperation) {
		t.Fatalf("expected ErrUnknownOperation, got %v", err)
	}
}

func TestOperationKindJSON(t *testing.T) {
	raw, err := json.Marshal(struct {
		Kind OperationKind `json:"kind"`
	}{Kind: OpTransferIn})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(raw) != `{"kind":"transfer_in"}` {
		t.Fatalf("unexpected json %s", raw)
	}

	var zero OperationKind
	if _, err := json.Marshal(zero); err == nil {
		t.Fatalf("expected marshal of zero kind to fail")
	}
}
