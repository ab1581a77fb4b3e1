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

// Package audit writes the disclosure audit trail: CSV files bucketed by
// host and time window, appended to by every decrypt and every unmasked
// field lookup.
package audit

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Header is the first row of every audit file.
var Header = []string{"DateTimeUTC", "FieldRef", "UserRef", "Comment"}

const recordTimeLayout = "2006-01-02 15:04:05.000000"

type Record struct {
	Time      time.Time
	RecordRef string
	UserRef   string
	Comment   string
}

func (r Record) fields() []string {
	return []string{r.Time.UTC().Format(recordTimeLayout), r.RecordRef, r.UserRef, r.Comment}
}

// Sink appends records to the bucket file for the current time window.
// Appends from one Sink are serialized. Every batch is a single O_APPEND
// write, so several processes can share a directory; their host names keep
// the files apart anyway. Whether a header is due is decided from the size
// of the opened file, so a bucket removed by rotation gets a fresh header.
type Sink struct {
	dir       string
	prefix    string
	hostname  string
	layout    string
	delimiter byte
	quote     byte
	now       func() time.Time

	mu sync.Mutex
}

type SinkOption func(*Sink)

func WithHostname(h string) SinkOption {
	return func(s *Sink) { s.hostname = h }
}

func WithSinkClock(now func() time.Time) SinkOption {
	return func(s *Sink) { s.now = now }
}

func NewSink(cfg Config, opts ...SinkOption) (*Sink, error) {
	cfg = cfg.withDefaults()
	if len(cfg.Delimiter) != 1 {
		return nil, fmt.Errorf("audit delimiter must be a single character, got %q", cfg.Delimiter)
	}
	if len(cfg.QuoteChar) != 1 {
		return nil, fmt.Errorf("audit quote character must be a single character, got %q", cfg.QuoteChar)
	}

	s := &Sink{
		dir:       cfg.Dir,
		prefix:    cfg.Prefix,
		layout:    BucketLayout(cfg.TimestampPattern),
		delimiter: cfg.Delimiter[0],
		quote:     cfg.QuoteChar[0],
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.hostname == "" {
		h, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve hostname: %w", err)
		}
		s.hostname = h
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory %s: %w", s.dir, err)
	}
	return s, nil
}

// BucketLayout turns a pattern of strftime letters such as "YmdH" into a Go
// time layout with the fields joined by underscores ("2006_01_02_15").
// Letters without a time meaning are kept literally.
func BucketLayout(pattern string) string {
	parts := make([]string, 0, len(pattern))
	for _, r := range pattern {
		if l, ok := strftimeLayouts[r]; ok {
			parts = append(parts, l)
		} else {
			parts = append(parts, string(r))
		}
	}
	return strings.Join(parts, "_")
}

var strftimeLayouts = map[rune]string{
	'Y': "2006",
	'y': "06",
	'm': "01",
	'd': "02",
	'H': "15",
	'I': "03",
	'p': "PM",
	'M': "04",
	'S': "05",
	'j': "002",
	'b': "Jan",
	'B': "January",
	'a': "Mon",
	'A': "Monday",
}

// Path returns the bucket file records written at t land in.
func (s *Sink) Path(t time.Time) string {
	name := fmt.Sprintf("%s__%s__%s.csv", s.prefix, s.hostname, t.Format(s.layout))
	return filepath.Join(s.dir, name)
}

// Append writes records to the current bucket file, preceded by the header
// when the file is new or empty.
func (s *Sink) Append(records []Record) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.Path(s.now())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit file %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to stat audit file %s: %w", path, err)
	}

	var buf bytes.Buffer
	if fi.Size() == 0 {
		s.writeRow(&buf, Header)
	}
	for _, r := range records {
		s.writeRow(&buf, r.fields())
	}

	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write audit file %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close audit file %s: %w", path, err)
	}
	return nil
}

// writeRow renders one CSV line, quoting only fields that contain the
// delimiter, the quote character or a line break. Quote characters inside a
// quoted field are doubled.
func (s *Sink) writeRow(buf *bytes.Buffer, fields []string) {
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(s.delimiter)
		}
		if !s.needsQuote(f) {
			buf.WriteString(f)
			continue
		}
		buf.WriteByte(s.quote)
		for j := 0; j < len(f); j++ {
			if f[j] == s.quote {
				buf.WriteByte(s.quote)
			}
			buf.WriteByte(f[j])
		}
		buf.WriteByte(s.quote)
	}
	buf.WriteByte('\n')
}

func (s *Sink) needsQuote(f string) bool {
	return strings.IndexByte(f, s.delimiter) >= 0 ||
		strings.IndexByte(f, s.quote) >= 0 ||
		strings.ContainsAny(f, "\r\n")
}
