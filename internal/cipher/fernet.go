// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package cipher wraps Fernet authenticated encryption behind a small
// encrypt/decrypt interface. Tokens are interchangeable with those produced by
// other Fernet implementations given the same key.
package cipher

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fernet/fernet-go"
)

// ErrDecryption covers every token that cannot be opened with the configured
// key: malformed input, tampering, and tokens sealed under another key.
var ErrDecryption = errors.New("cannot decrypt value")

// noTTL disables every timestamp check, including the clock skew limit, so
// tokens never expire and producers with a fast clock are still accepted.
const noTTL time.Duration = 0

type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Fernet is safe for concurrent use; the key is never modified after New.
type Fernet struct {
	keys []*fernet.Key
}

var _ Cipher = (*Fernet)(nil)

// New parses a base64 encoded 32 byte Fernet key.
func New(key string) (*Fernet, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("cipher key is empty")
	}
	k, err := fernet.DecodeKey(key)
	if err != nil {
		return nil, fmt.Errorf("invalid cipher key: %w", err)
	}
	return &Fernet{keys: []*fernet.Key{k}}, nil
}

func (f *Fernet) Encrypt(plaintext []byte) ([]byte, error) {
	tok, err := fernet.EncryptAndSign(plaintext, f.keys[0])
	if err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}
	return tok, nil
}

func (f *Fernet) Decrypt(ciphertext []byte) ([]byte, error) {
	msg := fernet.VerifyAndDecrypt(ciphertext, noTTL, f.keys)
	if msg == nil {
		return nil, ErrDecryption
	}
	return msg, nil
}

// GenerateKey returns a fresh random key in the encoding New accepts.
func GenerateKey() (string, error) {
	var k fernet.Key
	if err := k.Generate(); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return k.Encode(), nil
}
