package security

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"
)

func newTestSecurity(t *testing.T) *Security {
	t.Helper()
	s, err := New(1024, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return s
}

func TestHandshakeKeyExchange(t *testing.T) {
	s := newTestSecurity(t)

	modulus, exponent := s.GetPublicKey()
	pub := PublicKeyFromBytes(modulus, exponent)
	if pub.N.Cmp(s.PublicKey().N) != 0 || pub.E != s.PublicKey().E {
		t.Fatalf("public key did not survive modulus/exponent export")
	}

	client, err := NewClientSession(pub)
	if err != nil {
		t.Fatalf("client session: %v", err)
	}
	if err := s.AddConnection("10.0.0.1:4499", client.EncryptedKey, client.EncryptedIV); err != nil {
		t.Fatalf("add connection: %v", err)
	}

	sealed, err := client.Encrypt([]byte("password-hash"))
	if err != nil {
		t.Fatalf("client encrypt: %v", err)
	}
	opened, err := s.Decrypt(sealed, "10.0.0.1:4499")
	if err != nil {
		t.Fatalf("server decrypt: %v", err)
	}
	if !bytes.Equal(opened, []byte("password-hash")) {
		t.Fatalf("unexpected plaintext %q", opened)
	}

	reply, err := s.Encrypt([]byte("0123456789abcdef"), "10.0.0.1:4499")
	if err != nil {
		t.Fatalf("server encrypt: %v", err)
	}
	if len(reply) != 32 {
		t.Fatalf("expected a full padding block for aligned input, got %d bytes", len(reply))
	}
	back, err := client.Decrypt(reply)
	if err != nil || string(back) != "0123456789abcdef" {
		t.Fatalf("client decrypt: %q, %v", back, err)
	}
}

func TestDecryptUnknownEndpoint(t *testing.T) {
	s := newTestSecurity(t)

	_, err := s.Decrypt(make([]byte, 16), "nowhere")
	if !errors.Is(err, ErrUnknownEndpoint) {
		t.Fatalf("expected ErrUnknownEndpoint, got %v", err)
	}
}

func TestRemoveConnection(t *testing.T) {
	s := newTestSecurity(t)
	client, err := NewClientSession(s.PublicKey())
	if err != nil {
		t.Fatalf("client session: %v", err)
	}
	if err := s.AddConnection("peer", client.EncryptedKey, client.EncryptedIV); err != nil {
		t.Fatalf("add connection: %v", err)
	}

	s.RemoveConnection("peer")
	if s.HasConnection("peer") {
		t.Fatalf("session survived RemoveConnection")
	}
}

func TestAddConnectionRejectsGarbage(t *testing.T) {
	s := newTestSecurity(t)

	if err := s.AddConnection("peer", []byte{1, 2, 3}, []byte{4, 5, 6}); err == nil {
		t.Fatalf("expected error for undecryptable key material")
	}
	if s.HasConnection("peer") {
		t.Fatalf("failed handshake must not register a session")
	}
}

func TestAddConnectionRejectsShortIV(t *testing.T) {
	s := newTestSecurity(t)

	key, _ := rsa.EncryptPKCS1v15(rand.Reader, s.PublicKey(), make([]byte, 16))
	iv, _ := rsa.EncryptPKCS1v15(rand.Reader, s.PublicKey(), make([]byte, 8))
	if err := s.AddConnection("peer", key, iv); err == nil {
		t.Fatalf("expected error for 8-byte iv")
	}
}

func TestDecryptRejectsBadPadding(t *testing.T) {
	s := newTestSecurity(t)
	client, err := NewClientSession(s.PublicKey())
	if err != nil {
		t.Fatalf("client session: %v", err)
	}
	if err := s.AddConnection("peer", client.EncryptedKey, client.EncryptedIV); err != nil {
		t.Fatalf("add connection: %v", err)
	}

	if _, err := s.Decrypt([]byte{1, 2, 3}, "peer"); err == nil {
		t.Fatalf("expected error for unaligned ciphertext")
	}
}
