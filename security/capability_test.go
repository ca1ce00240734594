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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuenv/cuenv"
)

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := LoadOrGenerateSigner(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestCapabilityChecker_AuthorizesMatchingKey(t *testing.T) {
	signer := newTestSigner(t)
	authority := NewCapabilityAuthority(signer)
	checker := NewCapabilityChecker(authority, signer.PublicKey(), nil)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	token, err := authority.Issue("t1", "alice", []Permission{PermRead, PermWrite}, []string{"build-*"}, time.Hour, now)
	require.NoError(t, err)

	checker2 := &CapabilityChecker{authorityPublic: signer.PublicKey(), authority: authority, clock: fixedClock{now.Add(time.Minute)}}
	decision, _ := checker2.Check(token, OpRead("build-123"))
	require.Equal(t, Authorized, decision)
	_ = checker
}

func TestCapabilityChecker_RejectsUnmatchedKey(t *testing.T) {
	signer := newTestSigner(t)
	authority := NewCapabilityAuthority(signer)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	token, err := authority.Issue("t1", "alice", []Permission{PermRead}, []string{"build-*"}, time.Hour, now)
	require.NoError(t, err)

	checker := &CapabilityChecker{authorityPublic: signer.PublicKey(), authority: authority, clock: fixedClock{now}}
	decision, _ := checker.Check(token, OpRead("deploy-1"))
	require.Equal(t, KeyAccessDenied, decision)
}

func TestCapabilityChecker_RejectsMissingPermission(t *testing.T) {
	signer := newTestSigner(t)
	authority := NewCapabilityAuthority(signer)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	token, err := authority.Issue("t1", "alice", []Permission{PermRead}, []string{"*"}, time.Hour, now)
	require.NoError(t, err)

	checker := &CapabilityChecker{authorityPublic: signer.PublicKey(), authority: authority, clock: fixedClock{now}}
	decision, _ := checker.Check(token, OpWrite("anything"))
	require.Equal(t, InsufficientPermissions, decision)
}

func TestCapabilityChecker_ClearRequiresWildcard(t *testing.T) {
	signer := newTestSigner(t)
	authority := NewCapabilityAuthority(signer)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	token, err := authority.Issue("t1", "alice", []Permission{PermClear}, []string{"build-*"}, time.Hour, now)
	require.NoError(t, err)

	checker := &CapabilityChecker{authorityPublic: signer.PublicKey(), authority: authority, clock: fixedClock{now}}
	decision, _ := checker.Check(token, OpClear())
	require.Equal(t, KeyAccessDenied, decision)

	wildToken, err := authority.Issue("t2", "alice", []Permission{PermClear}, []string{"*"}, time.Hour, now)
	require.NoError(t, err)
	decision2, _ := checker.Check(wildToken, OpClear())
	require.Equal(t, Authorized, decision2)
}

func TestCapabilityChecker_ExpiredToken(t *testing.T) {
	signer := newTestSigner(t)
	authority := NewCapabilityAuthority(signer)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	token, err := authority.Issue("t1", "alice", []Permission{PermRead}, []string{"*"}, time.Minute, now)
	require.NoError(t, err)

	checker := &CapabilityChecker{authorityPublic: signer.PublicKey(), authority: authority, clock: fixedClock{now.Add(time.Hour)}}
	decision, reason := checker.Check(token, OpRead("k"))
	require.Equal(t, TokenInvalid, decision)
	require.Equal(t, TokenExpired, reason)
}

func TestCapabilityChecker_RevokedToken(t *testing.T) {
	signer := newTestSigner(t)
	authority := NewCapabilityAuthority(signer)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	token, err := authority.Issue("t1", "alice", []Permission{PermRead}, []string{"*"}, time.Hour, now)
	require.NoError(t, err)
	authority.Revoke("t1")

	checker := &CapabilityChecker{authorityPublic: signer.PublicKey(), authority: authority, clock: fixedClock{now}}
	decision, reason := checker.Check(token, OpRead("k"))
	require.Equal(t, TokenInvalid, decision)
	require.Equal(t, TokenRevoked, reason)
}

func TestCapabilityChecker_TamperedSignatureRejected(t *testing.T) {
	signer := newTestSigner(t)
	authority := NewCapabilityAuthority(signer)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	token, err := authority.Issue("t1", "alice", []Permission{PermRead}, []string{"*"}, time.Hour, now)
	require.NoError(t, err)
	token.Principal = "mallory"

	checker := &CapabilityChecker{authorityPublic: signer.PublicKey(), authority: authority, clock: fixedClock{now}}
	decision, reason := checker.Check(token, OpRead("k"))
	require.Equal(t, TokenInvalid, decision)
	require.Equal(t, TokenMalformed, reason)
}

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }

var _ cuenv.Clock = fixedClock{}
