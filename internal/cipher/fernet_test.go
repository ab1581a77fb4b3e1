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

package cipher

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"testing"
	"time"

	"github.com/fernet/fernet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCipher(t *testing.T) *Fernet {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	c, err := New(key)
	require.NoError(t, err)
	return c
}

func TestRoundTrip(t *testing.T) {
	c := newTestCipher(t)

	for _, plaintext := range []string{"", "hello", "30", "ünïcødé ✓", string(make([]byte, 4096))} {
		tok, err := c.Encrypt([]byte(plaintext))
		require.NoError(t, err)
		assert.NotEqual(t, plaintext, string(tok))

		got, err := c.Decrypt(tok)
		require.NoError(t, err)
		assert.Equal(t, plaintext, string(got))
	}
}

func TestDecrypt_NotAToken(t *testing.T) {
	c := newTestCipher(t)

	for _, input := range []string{"", "plain text", "gAAAAABnot-really-a-token"} {
		_, err := c.Decrypt([]byte(input))
		assert.ErrorIs(t, err, ErrDecryption, "input %q", input)
	}
}

func TestDecrypt_ForeignKey(t *testing.T) {
	a := newTestCipher(t)
	b := newTestCipher(t)

	tok, err := a.Encrypt([]byte("secret"))
	require.NoError(t, err)

	_, err = b.Decrypt(tok)
	assert.ErrorIs(t, err, ErrDecryption)
}

func TestDecrypt_Tampered(t *testing.T) {
	c := newTestCipher(t)
	tok, err := c.Encrypt([]byte("secret"))
	require.NoError(t, err)

	tok[len(tok)/2] ^= 0x01
	_, err = c.Decrypt(tok)
	assert.ErrorIs(t, err, ErrDecryption)
}

func TestNew_InvalidKey(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)

	_, err = New("too-short")
	assert.Error(t, err)
}

// resign rewrites the timestamp of a token and signs it again with key.
func resign(t *testing.T, tok []byte, key string, ts time.Time) []byte {
	t.Helper()
	k, err := fernet.DecodeKey(key)
	require.NoError(t, err)

	raw, err := base64.URLEncoding.DecodeString(string(tok))
	require.NoError(t, err)
	binary.BigEndian.PutUint64(raw[1:9], uint64(ts.Unix()))

	n := len(raw) - sha256.Size
	mac := hmac.New(sha256.New, k[:16])
	mac.Write(raw[:n])
	copy(raw[n:], mac.Sum(nil))
	return []byte(base64.URLEncoding.EncodeToString(raw))
}

func TestDecrypt_IgnoresTokenTimestamp(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	c, err := New(key)
	require.NoError(t, err)

	tok, err := c.Encrypt([]byte("secret"))
	require.NoError(t, err)

	for name, ts := range map[string]time.Time{
		"producer clock ahead": time.Now().Add(5 * time.Minute),
		"years old":            time.Now().AddDate(-20, 0, 0),
	} {
		t.Run(name, func(t *testing.T) {
			got, err := c.Decrypt(resign(t, tok, key, ts))
			require.NoError(t, err)
			assert.Equal(t, "secret", string(got))
		})
	}
}
