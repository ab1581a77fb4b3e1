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

// Package refdata holds the reference datasets used by field lookups:
// authoritative values, obfuscated values and the allow-list of users that
// may see authoritative values. The three are always swapped together.
package refdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	"github.com/cardinalhq/privacysse/internal/datasource"
)

var (
	// ErrNotFound means the record or field is absent from the active dataset.
	ErrNotFound = errors.New("no data for record and field")
	// ErrNoDataset means no snapshot has ever loaded successfully.
	ErrNoDataset = errors.New("reference dataset not loaded")
	// ErrReload wraps every failure to load a new snapshot.
	ErrReload = errors.New("reference dataset reload failed")
)

type Disclosure int

const (
	Masked Disclosure = iota
	Full
)

func (d Disclosure) String() string {
	if d == Full {
		return "full"
	}
	return "masked"
}

// Sources names the documents the three datasets are read from. Equal URIs
// are fetched once per reload.
type Sources struct {
	Data       string
	Obfuscated string
	Access     string
}

func (s Sources) distinct() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, u := range []string{s.Data, s.Obfuscated, s.Access} {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

type Option func(*Cache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// Cache serves lookups from the current snapshot and replaces it wholesale
// when the refresh policy says so. Readers never lock.
type Cache struct {
	loader  datasource.Loader
	sources Sources
	policy  Policy
	now     func() time.Time

	current atomic.Pointer[Dataset]
	stale   atomic.Bool
	group   singleflight.Group
}

func New(loader datasource.Loader, sources Sources, policy Policy, opts ...Option) *Cache {
	c := &Cache{
		loader:  loader,
		sources: sources,
		policy:  policy,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) Policy() Policy { return c.policy }

func (c *Cache) Sources() Sources { return c.sources }

// Snapshot returns the active dataset, or nil before the first load.
func (c *Cache) Snapshot() *Dataset {
	return c.current.Load()
}

// Invalidate forces the next EnsureFresh to reload.
func (c *Cache) Invalidate() {
	c.stale.Store(true)
}

func (c *Cache) due() bool {
	ds := c.current.Load()
	if ds == nil || c.stale.Load() {
		return true
	}
	return c.policy.Due(ds.LoadedAt, c.now())
}

// EnsureFresh reloads the datasets when none is loaded yet or the policy
// interval has elapsed. On failure the previous snapshot stays in place and
// the next call tries again. Concurrent callers share one reload, which is
// detached from the cancellation of whichever caller started it.
func (c *Cache) EnsureFresh(ctx context.Context) error {
	if !c.due() {
		return nil
	}
	_, err, _ := c.group.Do("reload", func() (any, error) {
		if !c.due() {
			return nil, nil
		}
		return nil, c.reload(context.WithoutCancel(ctx))
	})
	return err
}

func (c *Cache) reload(ctx context.Context) error {
	start := c.now()
	c.stale.Store(false)
	slog.Info("Updating reference dataset",
		slog.String("data", c.sources.Data),
		slog.String("obfuscated", c.sources.Obfuscated),
		slog.String("access", c.sources.Access))

	ds, err := c.load(ctx)
	if err != nil {
		c.stale.Store(true)
		reloadCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "failure")))
		err = fmt.Errorf("%w: %w", ErrReload, err)
		if c.current.Load() != nil {
			slog.Error("Reference dataset reload failed, keeping previous snapshot", slog.Any("error", err))
		} else {
			slog.Error("Reference dataset reload failed, no snapshot available", slog.Any("error", err))
		}
		return err
	}

	c.current.Store(ds)
	reloadCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "success")))
	slog.Info("Reference dataset updated",
		slog.Int("records", len(ds.Authoritative)),
		slog.Int("allowedUsers", ds.Allowed.Cardinality()),
		slog.Duration("duration", c.now().Sub(start)))
	return nil
}

func (c *Cache) load(ctx context.Context) (*Dataset, error) {
	docs := make(map[string]document, 3)
	for _, uri := range c.sources.distinct() {
		raw, err := c.loader.Fetch(ctx, uri)
		if err != nil {
			return nil, err
		}
		doc, err := parseDocument(uri, raw)
		if err != nil {
			return nil, err
		}
		docs[uri] = doc
	}

	dataRaw, err := docs[c.sources.Data].section(c.sources.Data, sectionData)
	if err != nil {
		return nil, err
	}
	obfRaw, err := docs[c.sources.Obfuscated].section(c.sources.Obfuscated, sectionObfuscated)
	if err != nil {
		return nil, err
	}
	accessRaw, err := docs[c.sources.Access].section(c.sources.Access, sectionAccess)
	if err != nil {
		return nil, err
	}

	authoritative, err := decodeFieldValues(c.sources.Data, sectionData, dataRaw)
	if err != nil {
		return nil, err
	}
	obfuscated, err := decodeFieldValues(c.sources.Obfuscated, sectionObfuscated, obfRaw)
	if err != nil {
		return nil, err
	}
	allowed, err := decodeAllowed(c.sources.Access, accessRaw)
	if err != nil {
		return nil, err
	}

	return &Dataset{
		Authoritative: authoritative,
		Obfuscated:    obfuscated,
		Allowed:       allowed,
		LoadedAt:      c.now(),
	}, nil
}

// Lookup returns the authoritative value when userID is on the allow-list
// and the obfuscated value otherwise. It has no side effects; auditing Full
// disclosures is the caller's job.
func (c *Cache) Lookup(recordID, field, userID string) (string, Disclosure, error) {
	ds := c.current.Load()
	if ds == nil {
		return "", Masked, ErrNoDataset
	}

	values, disclosure := ds.Obfuscated, Masked
	if ds.Allowed.Contains(userID) {
		values, disclosure = ds.Authoritative, Full
	}

	fields, ok := values[recordID]
	if !ok {
		return "", disclosure, ErrNotFound
	}
	v, ok := fields[field]
	if !ok {
		return "", disclosure, ErrNotFound
	}
	return v, disclosure, nil
}
