package webhooks

import (
	"strings"
	"testing"
)

func TestSign(t *testing.T) {
	secret := "secret"
	payload := []byte("payload")

	// echo -n "payload" | openssl dgst -sha256 -hmac "secret"
	expected := "b82fcb791acec57859b989b430a826488ce2e479fdf92326bd0a2e8375a42ba4"

	got := Sign(secret, payload)

	if got != expected {
		t.Errorf("Sign() = %v, want %v", got, expected)
	}
}

func TestVerify(t *testing.T) {
	body := []byte(`{"tenantId":"tnt_a"}`)
	good := Sign("s3cret", body)

	tests := []struct {
		name      string
		signature string
		want      bool
	}{
		{"valid", good, true},
		{"sha256 prefix", "sha256=" + good, true},
		{"uppercase hex", strings.ToUpper(good), true},
		{"wrong", "deadbeef", false},
		{"empty", "", false},
		{"not hex", "zz" + good[2:], false},
		{"other secret", Sign("other", body), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Verify("s3cret", body, tt.signature); got != tt.want {
				t.Errorf("Verify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVerify_BodyChanged(t *testing.T) {
	sig := Sign("s3cret", []byte(`{"amount":10}`))
	if Verify("s3cret", []byte(`{"amount": 10}`), sig) {
		t.Error("Verify() accepted a re-serialised body")
	}
}

func TestGenerateSecret(t *testing.T) {
	a, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret() error = %v", err)
	}
	b, _ := GenerateSecret()
	if len(a) != 64 {
		t.Errorf("len = %d, want 64", len(a))
	}
	if a == b {
		t.Error("two secrets are equal")
	}
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"short", "*****"},
		{"0123456789abcdef0123", "01234567...0123"},
	}
	for _, tt := range tests {
		if got := MaskSecret(tt.in); got != tt.want {
			t.Errorf("MaskSecret(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
