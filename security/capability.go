// Copyright 2026 The cuenv Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package security

import (
	"crypto/ed25519"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cuenv/cuenv"
	"github.com/cuenv/cuenv/internal/canonjson"
)

// Permission is one of the four operations a CapabilityToken may grant.
type Permission string

const (
	PermRead   Permission = "read"
	PermWrite  Permission = "write"
	PermDelete Permission = "delete"
	PermClear  Permission = "clear"
)

// Op names the cache operation being authorized, carrying the key it
// targets so the checker can evaluate key_patterns.
type Op struct {
	Permission Permission
	Key        cuenv.CacheKey
}

// OpRead, OpWrite, OpRemove and OpClear map an operation kind to the
// permission spec.md §4.7 says it requires: read->Read, write->Write, remove->Delete, clear->Clear.
func OpRead(key cuenv.CacheKey) Op   { return Op{PermRead, key} }
func OpWrite(key cuenv.CacheKey) Op  { return Op{PermWrite, key} }
func OpRemove(key cuenv.CacheKey) Op { return Op{PermDelete, key} }
func OpClear() Op                    { return Op{PermClear, "*"} }

// CapabilityToken is a signed bearer credential, per spec.md §3.
type CapabilityToken struct {
	TokenID       string       `json:"token_id"`
	Principal     string       `json:"principal"`
	Permissions   []Permission `json:"permissions"`
	KeyPatterns   []string     `json:"key_patterns"`
	IssuedAt      time.Time    `json:"issued_at"`
	ExpiresAt     time.Time    `json:"expires_at"`
	IssuerSig     []byte       `json:"issuer_signature"`
}

func (t CapabilityToken) hasPermission(p Permission) bool {
	for _, have := range t.Permissions {
		if have == p {
			return true
		}
	}
	return false
}

func (t CapabilityToken) matchesKey(key cuenv.CacheKey) bool {
	for _, pattern := range t.KeyPatterns {
		if ok, _ := filepath.Match(pattern, string(key)); ok {
			return true
		}
		if pattern == "*" {
			return true
		}
	}
	return false
}

// canonicalBody returns the bytes that IssuerSig signs: every field except
// the signature itself, canonically serialized.
func (t CapabilityToken) canonicalBody() ([]byte, error) {
	unsigned := t
	unsigned.IssuerSig = nil
	return canonjson.Marshal(unsigned)
}

// CapabilityAuthority issues and revokes tokens.
type CapabilityAuthority struct {
	signer   *Signer
	revoked  map[string]bool
}

// NewCapabilityAuthority returns an authority backed by signer.
func NewCapabilityAuthority(signer *Signer) *CapabilityAuthority {
	return &CapabilityAuthority{signer: signer, revoked: map[string]bool{}}
}

// Issue mints a new token for principal.
func (a *CapabilityAuthority) Issue(tokenID, principal string, perms []Permission, patterns []string, ttl time.Duration, now time.Time) (CapabilityToken, error) {
	t := CapabilityToken{
		TokenID:     tokenID,
		Principal:   principal,
		Permissions: perms,
		KeyPatterns: patterns,
		IssuedAt:    now,
		ExpiresAt:   now.Add(ttl),
	}
	body, err := t.canonicalBody()
	if err != nil {
		return CapabilityToken{}, cuenv.ErrSerialization("marshal token body", err)
	}
	sig, _, err := a.signer.Sign(body)
	if err != nil {
		return CapabilityToken{}, cuenv.ErrExternalFailure("sign token", err)
	}
	t.IssuerSig = sig
	return t, nil
}

// Revoke marks tokenID as no longer valid.
func (a *CapabilityAuthority) Revoke(tokenID string) { a.revoked[tokenID] = true }

// IsRevoked reports whether tokenID has been revoked.
func (a *CapabilityAuthority) IsRevoked(tokenID string) bool { return a.revoked[tokenID] }

// TokenInvalidReason refines KindNotAuthorized for a malformed/expired/
// revoked token, per spec.md §4.7.
type TokenInvalidReason string

const (
	TokenExpired   TokenInvalidReason = "expired"
	TokenRevoked   TokenInvalidReason = "revoked"
	TokenMalformed TokenInvalidReason = "malformed"
)

// Decision is the outcome of a capability check.
type Decision string

const (
	Authorized              Decision = "authorized"
	InsufficientPermissions Decision = "insufficient_permissions"
	KeyAccessDenied         Decision = "key_access_denied"
	TokenInvalid            Decision = "token_invalid"
)

// CapabilityChecker evaluates (token, op) pairs against an authority's
// public key and revocation list.
type CapabilityChecker struct {
	authorityPublic ed25519.PublicKey
	authority       *CapabilityAuthority
	clock           cuenv.Clock
}

// NewCapabilityChecker returns a checker that verifies tokens issued by
// authority and trusts its revocation list.
func NewCapabilityChecker(authority *CapabilityAuthority, authorityPublic ed25519.PublicKey, clock cuenv.Clock) *CapabilityChecker {
	if clock == nil {
		clock = cuenv.SystemClock{}
	}
	return &CapabilityChecker{authorityPublic: authorityPublic, authority: authority, clock: clock}
}

// Check evaluates op against token, returning the decision and, for
// TokenInvalid, the specific reason.
func (c *CapabilityChecker) Check(token CapabilityToken, op Op) (Decision, TokenInvalidReason) {
	body, err := token.canonicalBody()
	if err != nil || len(token.IssuerSig) == 0 || !ed25519.Verify(c.authorityPublic, body, token.IssuerSig) {
		return TokenInvalid, TokenMalformed
	}
	now := c.clock.Now()
	if now.After(token.ExpiresAt) {
		return TokenInvalid, TokenExpired
	}
	if c.authority != nil && c.authority.IsRevoked(token.TokenID) {
		return TokenInvalid, TokenRevoked
	}
	if !token.hasPermission(op.Permission) {
		return InsufficientPermissions, ""
	}
	if op.Permission == PermClear {
		hasWildcard := false
		for _, p := range token.KeyPatterns {
			if p == "*" {
				hasWildcard = true
				break
			}
		}
		if !hasWildcard {
			return KeyAccessDenied, ""
		}
		return Authorized, ""
	}
	if !token.matchesKey(op.Key) {
		return KeyAccessDenied, ""
	}
	return Authorized, ""
}

// AuthorizeOrError converts a Check result into a *cuenv.Error, or nil if
// authorized.
func (c *CapabilityChecker) AuthorizeOrError(token CapabilityToken, op Op) error {
	decision, reason := c.Check(token, op)
	switch decision {
	case Authorized:
		return nil
	case InsufficientPermissions:
		return cuenv.ErrNotAuthorized(fmt.Sprintf("token %q lacks permission %q", token.TokenID, op.Permission))
	case KeyAccessDenied:
		return cuenv.ErrNotAuthorized(fmt.Sprintf("token %q's key patterns do not match %q", token.TokenID, op.Key))
	default:
		return cuenv.ErrNotAuthorized(fmt.Sprintf("token %q invalid: %s", token.TokenID, reason))
	}
}
