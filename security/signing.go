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

// Package security implements the three orthogonal layers of spec.md §4.7:
// Ed25519 signing, capability-token access control, and an append-only
// hash-chained audit log, plus the Merkle tree of §4.7's fourth bullet.
package security

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuenv/cuenv"
)

const keyFilePerm = 0o600

// Signer implements storage/local.Signer over a persisted Ed25519 keypair.
// The keypair is generated on first use and persisted under the cache base
// directory with owner-only permissions, per spec.md §4.7.
type Signer struct {
	public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// LoadOrGenerateSigner reads the keypair from baseDir/identity.key, creating
// one if it doesn't exist.
func LoadOrGenerateSigner(baseDir string) (*Signer, error) {
	path := filepath.Join(baseDir, "identity.key")
	if data, err := os.ReadFile(path); err == nil {
		if len(data) != ed25519.PrivateKeySize {
			return nil, cuenv.ErrCorruption(cuenv.CorruptionBadSignature, "identity key file has wrong size", nil)
		}
		priv := ed25519.PrivateKey(data)
		return &Signer{public: priv.Public().(ed25519.PublicKey), private: priv}, nil
	} else if !os.IsNotExist(err) {
		return nil, cuenv.ErrIO(fmt.Sprintf("read identity key %q", path), err)
	}

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, cuenv.ErrExternalFailure("generate ed25519 keypair", err)
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, cuenv.ErrIO("create base directory for identity key", err)
	}
	if err := os.WriteFile(path, priv, keyFilePerm); err != nil {
		return nil, cuenv.ErrIO(fmt.Sprintf("persist identity key %q", path), err)
	}
	return &Signer{public: pub, private: priv}, nil
}

// Sign signs data, returning the signature and the verification key.
func (s *Signer) Sign(data []byte) (signature, publicKey []byte, err error) {
	return ed25519.Sign(s.private, data), append([]byte(nil), s.public...), nil
}

// Verify reports whether signature is a valid Ed25519 signature over data
// under publicKey.
func (s *Signer) Verify(data, signature, publicKey []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), data, signature)
}

// PublicKey returns the signer's verification key.
func (s *Signer) PublicKey() ed25519.PublicKey { return append(ed25519.PublicKey(nil), s.public...) }
