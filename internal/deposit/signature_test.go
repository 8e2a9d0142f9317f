package deposit_test

import (
	"CricLedger/internal/deposit"
	"errors"
	"testing"
)

func TestVerifier(t *testing.T) {
	v := deposit.NewVerifier("s3cret")
	body := []byte(`{"reference":"0x1","amount":"20.0","confirmations":12,"metadata":{}}`)
	sig := v.Sign(body)

	if err := v.Verify(body, sig); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}

	tests := []struct {
		name   string
		body   []byte
		header string
	}{
		{"missing header", body, ""},
		{"no scheme", body, sig[len("sha256="):]},
		{"not hex", body, "sha256=zz"},
		{"tampered body", []byte(`{"reference":"0x1","amount":"99.0"}`), sig},
		{"other secret", body, deposit.NewVerifier("other").Sign(body)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := v.Verify(tt.body, tt.header); !errors.Is(err, deposit.ErrBadSignature) {
				t.Fatalf("err = %v, want ErrBadSignature", err)
			}
		})
	}
}
