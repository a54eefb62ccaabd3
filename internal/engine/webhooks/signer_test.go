package webhooks

import (
	"testing"

	"pgregory.net/rapid"
)

func TestSign(t *testing.T) {
	secret := "secret"
	payload := []byte("payload")

	// echo -n "payload" | openssl dgst -sha256 -hmac "secret"
	expected := "sha256=b82fcb791acec57859b989b430a826488ce2e479fdf92326bd0a2e8375a42ba4"

	if got := Sign(secret, payload); got != expected {
		t.Errorf("Sign() = %v, want %v", got, expected)
	}
}

func TestVerify(t *testing.T) {
	body := []byte(`{"event":"link.click","data":{},"timestamp":"2026-01-02T03:04:05.000Z"}`)
	sig := Sign("whsec_abc", body)

	tests := []struct {
		name   string
		secret string
		body   []byte
		header string
		want   bool
	}{
		{"valid", "whsec_abc", body, sig, true},
		{"wrong secret", "whsec_xyz", body, sig, false},
		{"missing prefix", "whsec_abc", body, sig[len("sha256="):], false},
		{"not hex", "whsec_abc", body, "sha256=zz", false},
		{"empty header", "whsec_abc", body, "", false},
		{"trailing newline in body", "whsec_abc", append(append([]byte{}, body...), '\n'), sig, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Verify(tt.secret, tt.body, tt.header); got != tt.want {
				t.Errorf("Verify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVerify_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		secret := rapid.StringN(1, 64, -1).Draw(t, "secret")
		body := rapid.SliceOfN(rapid.Byte(), 1, 512).Draw(t, "body")
		idx := rapid.IntRange(0, len(body)-1).Draw(t, "idx")
		flip := rapid.ByteRange(1, 255).Draw(t, "flip")

		sig := Sign(secret, body)
		if !Verify(secret, body, sig) {
			t.Fatalf("signature does not verify against the signed bytes")
		}

		tampered := append([]byte{}, body...)
		tampered[idx] ^= flip
		if Verify(secret, tampered, sig) {
			t.Fatalf("signature verified after byte %d was altered", idx)
		}
	})
}
