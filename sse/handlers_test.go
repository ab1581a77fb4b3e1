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

package sse

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/metadata"

	"github.com/cardinalhq/privacysse/internal/audit"
	"github.com/cardinalhq/privacysse/internal/cipher"
	"github.com/cardinalhq/privacysse/internal/refdata"
	"github.com/cardinalhq/privacysse/sseproto"
)

const testKey = "cw_0x689RpI-jtRR7oE8h_eQsKImvJapLeSbXpwF4e4="

type rowStream struct {
	in      []*sseproto.BundledRows
	recvErr error

	out     []*sseproto.BundledRows
	header  metadata.MD
	sendErr error
	// sent counts Send calls made before the header was set
	sentBeforeHeader int
}

func newRowStream(batches ...*sseproto.BundledRows) *rowStream {
	return &rowStream{in: batches}
}

func (s *rowStream) Recv() (*sseproto.BundledRows, error) {
	if len(s.in) == 0 {
		if s.recvErr != nil {
			return nil, s.recvErr
		}
		return nil, io.EOF
	}
	b := s.in[0]
	s.in = s.in[1:]
	return b, nil
}

func (s *rowStream) Send(b *sseproto.BundledRows) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	if s.header == nil {
		s.sentBeforeHeader++
	}
	s.out = append(s.out, b)
	return nil
}

func (s *rowStream) SetHeader(md metadata.MD) error {
	s.header = metadata.Join(s.header, md)
	return nil
}

func (s *rowStream) values() []string {
	var vals []string
	for _, b := range s.out {
		for _, r := range b.Rows {
			vals = append(vals, r.Str(0))
		}
	}
	return vals
}

func batch(rows ...[]string) *sseproto.BundledRows {
	b := &sseproto.BundledRows{}
	for _, cols := range rows {
		r := &sseproto.Row{}
		for _, c := range cols {
			r.Duals = append(r.Duals, &sseproto.Dual{StrData: c})
		}
		b.Rows = append(b.Rows, r)
	}
	return b
}

type recordingAuditor struct {
	mu      sync.Mutex
	batches [][]audit.Record
}

func (a *recordingAuditor) Submit(_ context.Context, records []audit.Record) {
	if len(records) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.batches = append(a.batches, records)
}

func (a *recordingAuditor) records() []audit.Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []audit.Record
	for _, b := range a.batches {
		out = append(out, b...)
	}
	return out
}

type staticData struct {
	cache *refdata.Cache
	fresh int
}

func (s *staticData) EnsureFresh(ctx context.Context) error {
	s.fresh++
	return s.cache.EnsureFresh(ctx)
}

func (s *staticData) Lookup(recordID, field, userID string) (string, refdata.Disclosure, error) {
	return s.cache.Lookup(recordID, field, userID)
}

type docLoader string

func (d docLoader) Fetch(context.Context, string) ([]byte, error) { return []byte(d), nil }

func newScenarioData() *staticData {
	doc := docLoader(`{"data":{"42":{"age":"30"}},"obfuscated":{"42":{"age":"**"}},"access":["alice"]}`)
	c := refdata.New(doc, refdata.Sources{Data: "d", Obfuscated: "d", Access: "d"}, refdata.ParsePolicy("L"))
	return &staticData{cache: c}
}

var fixedNow = time.Date(2026, 10, 19, 14, 30, 15, 123456000, time.UTC)

func newTestHandlers(t *testing.T) (*Handlers, *cipher.Fernet, *recordingAuditor, *staticData) {
	t.Helper()
	c, err := cipher.New(testKey)
	require.NoError(t, err)
	aud := &recordingAuditor{}
	data := newScenarioData()
	h := NewHandlers(c, data, aud, WithHandlersClock(func() time.Time { return fixedNow }))
	return h, c, aud, data
}

func TestDecrypt(t *testing.T) {
	h, c, aud, _ := newTestHandlers(t)
	tok, err := c.Encrypt([]byte("secret"))
	require.NoError(t, err)

	stream := newRowStream(
		batch([]string{string(tok), "ref1", "alice", "why"}),
		batch([]string{"not-a-token", "ref2", "bob", "because"}, []string{string(tok), "ref3", "carol", ""}),
	)
	require.NoError(t, h.Decrypt(context.Background(), stream, stream))

	require.Len(t, stream.out, 2, "one output batch per input batch")
	assert.Equal(t, []string{"secret", DecryptFailedValue, "secret"}, stream.values())

	recs := aud.records()
	require.Len(t, recs, 3, "every row is audited, including failed ones")
	assert.Equal(t, audit.Record{Time: fixedNow, RecordRef: "ref1", UserRef: "alice", Comment: "why"}, recs[0])
	assert.Equal(t, "ref2", recs[1].RecordRef)
	assert.Equal(t, "bob", recs[1].UserRef)
	assert.Len(t, aud.batches, 2, "one audit submission per batch")
}

func TestDecryptShortRow(t *testing.T) {
	h, _, aud, _ := newTestHandlers(t)
	stream := newRowStream(batch([]string{"garbage"}))
	require.NoError(t, h.Decrypt(context.Background(), stream, stream))

	assert.Equal(t, []string{DecryptFailedValue}, stream.values())
	recs := aud.records()
	require.Len(t, recs, 1)
	assert.Equal(t, "", recs[0].RecordRef)
}

func TestEncryptEmitsEveryRow(t *testing.T) {
	h, c, aud, _ := newTestHandlers(t)
	stream := newRowStream(
		batch([]string{"a"}, []string{"b"}),
		batch([]string{"c"}),
	)
	require.NoError(t, h.Encrypt(context.Background(), stream, stream))

	vals := stream.values()
	require.Len(t, vals, 3)
	for i, want := range []string{"a", "b", "c"} {
		plain, err := c.Decrypt([]byte(vals[i]))
		require.NoError(t, err)
		assert.Equal(t, want, string(plain))
	}
	assert.Empty(t, aud.records())
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	h, _, _, _ := newTestHandlers(t)
	enc := newRowStream(batch([]string{"hello world"}))
	require.NoError(t, h.Encrypt(context.Background(), enc, enc))

	dec := newRowStream(batch([]string{enc.values()[0], "r", "u", "c"}))
	require.NoError(t, h.Decrypt(context.Background(), dec, dec))
	assert.Equal(t, []string{"hello world"}, dec.values())
}

func TestFieldLookup(t *testing.T) {
	h, _, aud, data := newTestHandlers(t)
	stream := newRowStream(batch(
		[]string{"age", "42", "alice", "support ticket"},
		[]string{"age", "42", "bob", "curious"},
		[]string{"age", "99", "alice", "missing"},
		[]string{"age", "42"},
	))
	require.NoError(t, h.FieldLookup(context.Background(), stream, stream))

	assert.Equal(t, []string{"30", "**", LookupFailedValue, LookupFailedValue}, stream.values())
	assert.Equal(t, 1, data.fresh)

	recs := aud.records()
	require.Len(t, recs, 1, "only the unmasked disclosure is audited")
	assert.Equal(t, audit.Record{
		Time:      fixedNow,
		RecordRef: "42",
		UserRef:   "alice",
		Comment:   "Field: age - support ticket",
	}, recs[0])
}

func TestFieldLookupMaskedIsNotAudited(t *testing.T) {
	h, _, aud, _ := newTestHandlers(t)
	stream := newRowStream(batch([]string{"age", "42", "bob", "x"}))
	require.NoError(t, h.FieldLookup(context.Background(), stream, stream))
	assert.Equal(t, []string{"**"}, stream.values())
	assert.Empty(t, aud.batches)
}

func TestFieldLookupRefreshesPerBatch(t *testing.T) {
	h, _, _, data := newTestHandlers(t)
	stream := newRowStream(
		batch([]string{"age", "42", "bob", ""}),
		batch([]string{"age", "42", "bob", ""}),
		batch([]string{"age", "42", "bob", ""}),
	)
	require.NoError(t, h.FieldLookup(context.Background(), stream, stream))
	assert.Equal(t, 3, data.fresh)
	assert.Len(t, stream.out, 3)
}

type failingData struct{}

func (failingData) EnsureFresh(context.Context) error { return refdata.ErrReload }

func (failingData) Lookup(string, string, string) (string, refdata.Disclosure, error) {
	return "", refdata.Masked, refdata.ErrNoDataset
}

func TestFieldLookupWithoutDataset(t *testing.T) {
	c, err := cipher.New(testKey)
	require.NoError(t, err)
	h := NewHandlers(c, failingData{}, &recordingAuditor{})

	stream := newRowStream(batch([]string{"age", "42", "alice", ""}))
	require.NoError(t, h.FieldLookup(context.Background(), stream, stream))
	assert.Equal(t, []string{LookupFailedValue}, stream.values())
}

func TestCacheEcho(t *testing.T) {
	h, _, _, _ := newTestHandlers(t)
	stream := newRowStream(batch([]string{"x"}, []string{"y"}))
	require.NoError(t, h.CacheEcho(context.Background(), stream, stream))

	require.Len(t, stream.out, 2, "echo streams one batch per row")
	assert.Equal(t, "x 2026-10-19T14:30:15.123456", stream.out[0].Rows[0].Str(0))
	assert.True(t, strings.HasPrefix(stream.out[1].Rows[0].Str(0), "y "))
	assert.Empty(t, stream.header.Get(sseproto.CacheKey))
}

func TestNoCacheEcho(t *testing.T) {
	h, _, _, _ := newTestHandlers(t)
	stream := newRowStream(batch([]string{"x"}))
	require.NoError(t, h.NoCacheEcho(context.Background(), stream, stream))

	assert.Equal(t, []string{sseproto.CacheNoStore}, stream.header.Get(sseproto.CacheKey))
	assert.Equal(t, 0, stream.sentBeforeHeader)
	assert.Equal(t, []string{"x 2026-10-19T14:30:15.123456"}, stream.values())
}

func TestHandlersPropagateTransportErrors(t *testing.T) {
	h, _, _, _ := newTestHandlers(t)

	recvFail := newRowStream()
	recvFail.recvErr = errors.New("connection reset")
	assert.ErrorContains(t, h.Encrypt(context.Background(), recvFail, recvFail), "connection reset")

	sendFail := newRowStream(batch([]string{"x"}))
	sendFail.sendErr = errors.New("broken pipe")
	assert.ErrorContains(t, h.CacheEcho(context.Background(), sendFail, sendFail), "broken pipe")
}

func TestEmptyStream(t *testing.T) {
	h, _, aud, _ := newTestHandlers(t)
	for _, fn := range []Handler{h.Decrypt, h.Encrypt, h.FieldLookup, h.CacheEcho, h.NoCacheEcho} {
		stream := newRowStream()
		require.NoError(t, fn(context.Background(), stream, stream))
		assert.Empty(t, stream.out)
	}
	assert.Empty(t, aud.batches)
}
