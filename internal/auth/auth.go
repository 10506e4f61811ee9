// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package auth validates the bearer tokens presented on API and WebSocket
// connections. Tokens are HMAC-signed, self-contained and stateless:
// user.role.expiry.signature, with the signature covering the first three
// fields under the daemon's shared secret.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"grimm.is/bindctl/internal/errors"
)

// Role gates what a principal may do.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleViewer   Role = "viewer"
)

func (r Role) valid() bool {
	switch r {
	case RoleAdmin, RoleOperator, RoleViewer:
		return true
	}
	return false
}

// CanMutate reports whether the role may perform configuration changes.
func (r Role) CanMutate() bool { return r == RoleAdmin || r == RoleOperator }

// Claims is the verified content of a token.
type Claims struct {
	UserID    string
	Role      Role
	ExpiresAt time.Time
}

// Verifier checks tokens against a shared secret.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Sign issues a token. Used by the CLI to mint operator tokens and by tests.
func (v *Verifier) Sign(userID string, role Role, expiresAt time.Time) string {
	payload := userID + "." + string(role) + "." + strconv.FormatInt(expiresAt.Unix(), 10)
	return payload + "." + v.mac(payload)
}

// Verify parses and checks a token, returning its claims.
func (v *Verifier) Verify(token string, now time.Time) (*Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return nil, errors.New(errors.KindPermission, "malformed token")
	}
	payload := strings.Join(parts[:3], ".")
	if !hmac.Equal([]byte(v.mac(payload)), []byte(parts[3])) {
		return nil, errors.New(errors.KindPermission, "invalid token signature")
	}

	exp, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return nil, errors.New(errors.KindPermission, "malformed token expiry")
	}
	expiresAt := time.Unix(exp, 0)
	if !now.Before(expiresAt) {
		return nil, errors.New(errors.KindPermission, "token expired")
	}

	role := Role(parts[1])
	if !role.valid() {
		return nil, errors.Errorf(errors.KindPermission, "unknown role %q", parts[1])
	}
	return &Claims{UserID: parts[0], Role: role, ExpiresAt: expiresAt}, nil
}

func (v *Verifier) mac(payload string) string {
	m := hmac.New(sha256.New, v.secret)
	m.Write([]byte(payload))
	return hex.EncodeToString(m.Sum(nil))
}
