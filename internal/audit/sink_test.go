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

package audit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSink(t *testing.T, cfg Config, now *time.Time) *Sink {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	s, err := NewSink(cfg, WithHostname("host1"), WithSinkClock(func() time.Time { return *now }))
	require.NoError(t, err)
	return s
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
}

func TestBucketLayout(t *testing.T) {
	at := time.Date(2026, 10, 19, 14, 5, 9, 0, time.UTC)
	assert.Equal(t, "2026_10_19_14", at.Format(BucketLayout("YmdH")))
	assert.Equal(t, "2026_10_19", at.Format(BucketLayout("Ymd")))
	assert.Equal(t, "26_10_19_14_05_09", at.Format(BucketLayout("ymdHMS")))
}

func TestSinkPath(t *testing.T) {
	now := time.Date(2026, 10, 19, 14, 5, 0, 0, time.Local)
	dir := t.TempDir()
	s := newTestSink(t, Config{Dir: dir}, &now)
	assert.Equal(t, filepath.Join(dir, "QPI_Audit__host1__2026_10_19_14.csv"), s.Path(now))
}

func TestSinkHeaderWrittenOnce(t *testing.T) {
	now := time.Date(2026, 10, 19, 14, 5, 0, 0, time.Local)
	s := newTestSink(t, Config{}, &now)

	rec := Record{Time: time.Date(2026, 10, 19, 12, 5, 0, 123456000, time.UTC), RecordRef: "42", UserRef: "alice", Comment: "audit"}
	require.NoError(t, s.Append([]Record{rec}))

	now = now.Add(10 * time.Minute)
	require.NoError(t, s.Append([]Record{rec, rec}))

	lines := readLines(t, s.Path(now))
	require.Len(t, lines, 4)
	assert.Equal(t, "DateTimeUTC,FieldRef,UserRef,Comment", lines[0])
	assert.Equal(t, "2026-10-19 12:05:00.123456,42,alice,audit", lines[1])
	assert.Equal(t, lines[1], lines[3])
}

func TestSinkHeaderSkippedForExistingFile(t *testing.T) {
	now := time.Date(2026, 10, 19, 14, 5, 0, 0, time.Local)
	dir := t.TempDir()
	s := newTestSink(t, Config{Dir: dir}, &now)
	require.NoError(t, os.WriteFile(s.Path(now), []byte("DateTimeUTC,FieldRef,UserRef,Comment\n"), 0o644))

	// a second sink appends to a file it did not create
	s2 := newTestSink(t, Config{Dir: dir}, &now)
	require.NoError(t, s2.Append([]Record{{Time: now, RecordRef: "1", UserRef: "u", Comment: "c"}}))

	lines := readLines(t, s.Path(now))
	require.Len(t, lines, 2)
	assert.Equal(t, "DateTimeUTC,FieldRef,UserRef,Comment", lines[0])
}

func TestSinkNewBucketGetsHeader(t *testing.T) {
	now := time.Date(2026, 10, 19, 14, 5, 0, 0, time.Local)
	s := newTestSink(t, Config{}, &now)
	rec := Record{Time: now, RecordRef: "1", UserRef: "u", Comment: "c"}

	require.NoError(t, s.Append([]Record{rec}))
	first := s.Path(now)
	now = now.Add(time.Hour)
	require.NoError(t, s.Append([]Record{rec}))
	second := s.Path(now)

	require.NotEqual(t, first, second)
	assert.Len(t, readLines(t, first), 2)
	assert.Len(t, readLines(t, second), 2)
	assert.Equal(t, "DateTimeUTC,FieldRef,UserRef,Comment", readLines(t, second)[0])
}

func TestSinkHeaderRewrittenAfterRemoval(t *testing.T) {
	now := time.Date(2026, 10, 19, 14, 0, 0, 0, time.UTC)
	s := newTestSink(t, Config{}, &now)

	require.NoError(t, s.Append([]Record{{Time: now, RecordRef: "1"}}))
	require.NoError(t, os.Remove(s.Path(now)))
	require.NoError(t, s.Append([]Record{{Time: now, RecordRef: "2"}}))

	lines := readLines(t, s.Path(now))
	require.Len(t, lines, 2)
	assert.Equal(t, "DateTimeUTC,FieldRef,UserRef,Comment", lines[0])
	assert.Equal(t, "2026-10-19 14:00:00.000000,2,,", lines[1])
}

func TestSinkHeaderWrittenIntoEmptyFile(t *testing.T) {
	now := time.Date(2026, 10, 19, 14, 0, 0, 0, time.UTC)
	s := newTestSink(t, Config{}, &now)
	require.NoError(t, os.WriteFile(s.Path(now), nil, 0o644))

	require.NoError(t, s.Append([]Record{{Time: now, RecordRef: "1"}}))

	lines := readLines(t, s.Path(now))
	require.Len(t, lines, 2)
	assert.Equal(t, "DateTimeUTC,FieldRef,UserRef,Comment", lines[0])
}

func TestSinkQuoting(t *testing.T) {
	now := time.Date(2026, 10, 19, 14, 5, 0, 0, time.UTC)
	s := newTestSink(t, Config{}, &now)
	require.NoError(t, s.Append([]Record{{
		Time:      now,
		RecordRef: "a,b",
		UserRef:   "o'brien",
		Comment:   "Field: age - plain",
	}}))

	lines := readLines(t, s.Path(now))
	assert.Equal(t, "2026-10-19 14:05:00.000000,'a,b','o''brien',Field: age - plain", lines[1])
}

func TestSinkCustomDelimiter(t *testing.T) {
	now := time.Date(2026, 10, 19, 14, 5, 0, 0, time.UTC)
	s := newTestSink(t, Config{Delimiter: ";", QuoteChar: `"`, Prefix: "Custom"}, &now)
	require.NoError(t, s.Append([]Record{{Time: now, RecordRef: "x;y", UserRef: "u", Comment: "a,b"}}))

	assert.True(t, strings.HasPrefix(filepath.Base(s.Path(now)), "Custom__host1__"))
	lines := readLines(t, s.Path(now))
	assert.Equal(t, "DateTimeUTC;FieldRef;UserRef;Comment", lines[0])
	assert.Equal(t, `2026-10-19 14:05:00.000000;"x;y";u;a,b`, lines[1])
}

func TestSinkEmptyBatch(t *testing.T) {
	now := time.Date(2026, 10, 19, 14, 5, 0, 0, time.UTC)
	s := newTestSink(t, Config{}, &now)
	require.NoError(t, s.Append(nil))
	_, err := os.Stat(s.Path(now))
	assert.True(t, os.IsNotExist(err))
}

func TestNewSinkRejectsMultiCharDelimiter(t *testing.T) {
	_, err := NewSink(Config{Dir: t.TempDir(), Delimiter: "::"}, WithHostname("h"))
	assert.Error(t, err)
}
