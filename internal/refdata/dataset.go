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

package refdata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// Document section names.
const (
	sectionData       = "data"
	sectionObfuscated = "obfuscated"
	sectionAccess     = "access"
)

// FieldValues maps recordID -> field name -> value.
type FieldValues map[string]map[string]string

// Dataset is one immutable snapshot of the three parallel datasets.
type Dataset struct {
	Authoritative FieldValues
	Obfuscated    FieldValues
	Allowed       mapset.Set[string]
	LoadedAt      time.Time
}

type document map[string]json.RawMessage

func parseDocument(uri string, raw []byte) (document, error) {
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", uri, err)
	}
	return doc, nil
}

func (d document) section(uri, name string) (json.RawMessage, error) {
	raw, ok := d[name]
	if !ok {
		return nil, fmt.Errorf("%s has no %q section", uri, name)
	}
	return raw, nil
}

// decodeFieldValues decodes a recordID -> field -> value section. A record
// that is not an object is skipped and logged; the rest of the section still
// loads.
func decodeFieldValues(uri, name string, raw json.RawMessage) (FieldValues, error) {
	var records map[string]json.RawMessage
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decode %q section of %s: %w", name, uri, err)
	}
	out := make(FieldValues, len(records))
	for recordID, rec := range records {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(rec, &fields); err != nil {
			slog.Warn("Skipping malformed record",
				slog.String("source", uri),
				slog.String("section", name),
				slog.String("record", recordID),
				slog.Any("error", err))
			continue
		}
		m := make(map[string]string, len(fields))
		for field, v := range fields {
			m[field] = scalarString(v)
		}
		out[recordID] = m
	}
	return out, nil
}

func decodeAllowed(uri string, raw json.RawMessage) (mapset.Set[string], error) {
	var users []json.RawMessage
	if err := json.Unmarshal(raw, &users); err != nil {
		return nil, fmt.Errorf("decode %q section of %s: %w", sectionAccess, uri, err)
	}
	set := mapset.NewThreadUnsafeSetWithSize[string](len(users))
	for _, u := range users {
		set.Add(scalarString(u))
	}
	return set, nil
}

// scalarString renders JSON strings unquoted and every other value as its
// JSON text, so numbers come back as written in the source document.
func scalarString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}
