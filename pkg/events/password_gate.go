package events

import (
	"context"

	"github.com/sessamekesh/coop-relay/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

const WrongPassword = "Wrong password!"

// PasswordGate denies handshakes whose password hash does not match a bcrypt
// digest. An empty digest lets everyone in.
type PasswordGate struct {
	Hooks
	digest []byte
}

func NewPasswordGate(bcryptDigest string) *PasswordGate {
	return &PasswordGate{digest: []byte(bcryptDigest)}
}

func (g *PasswordGate) OnPlayerHandshake(_ context.Context, ev *Handshake) error {
	if len(g.digest) == 0 {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword(g.digest, []byte(ev.PasswordHash)); err != nil {
		return &errors.DenyError{Reason: WrongPassword}
	}
	return nil
}

// HashPassword produces the digest stored in config for a password hash as
// clients send it.
func HashPassword(passwordHash string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(passwordHash), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(digest), nil
}
