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

// Package datasource fetches reference dataset documents from local files or
// object storage.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrNotFound is returned when the referenced object does not exist.
var ErrNotFound = errors.New("source object not found")

var tracer = otel.Tracer("github.com/cardinalhq/privacysse/internal/datasource")

// Loader returns the full contents of the document at uri.
type Loader interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, uri string) ([]byte, error)

func (f LoaderFunc) Fetch(ctx context.Context, uri string) ([]byte, error) {
	return f(ctx, uri)
}

// Location is a parsed source URI.
type Location struct {
	Scheme string // "file", "s3" or "azblob"
	Bucket string // bucket or container; empty for files
	Key    string // object key, blob name or file path
}

// Parse splits a source URI. Plain paths (including Windows drive paths) are
// treated as local files.
func Parse(uri string) (Location, error) {
	if uri == "" {
		return Location{}, errors.New("empty source uri")
	}
	if !strings.Contains(uri, "://") {
		return Location{Scheme: "file", Key: uri}, nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return Location{}, fmt.Errorf("parse source uri %q: %w", uri, err)
	}
	switch u.Scheme {
	case "file":
		p := u.Path
		if u.Host != "" {
			p = u.Host + p
		}
		return Location{Scheme: "file", Key: p}, nil
	case "s3", "azblob":
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" {
			return Location{}, fmt.Errorf("source uri %q needs both a bucket and a key", uri)
		}
		return Location{Scheme: u.Scheme, Bucket: u.Host, Key: key}, nil
	default:
		return Location{}, fmt.Errorf("unsupported source scheme %q", u.Scheme)
	}
}

// Router sends each fetch to the backend registered for its scheme.
type Router struct {
	backends map[string]backend
}

type backend interface {
	fetch(ctx context.Context, loc Location) ([]byte, error)
}

// Options configures the object storage backends.
type Options struct {
	S3Endpoint      string
	S3PathStyle     bool
	AzureAccountURL string
}

// NewRouter returns a Router for local files, s3:// and azblob://. Cloud
// clients are created on first use, so a file-only deployment never needs
// cloud credentials.
func NewRouter(opts Options) *Router {
	return &Router{
		backends: map[string]backend{
			"file":   fileBackend{},
			"s3":     newS3Backend(opts.S3Endpoint, opts.S3PathStyle),
			"azblob": newAzureBackend(opts.AzureAccountURL),
		},
	}
}

func (r *Router) Fetch(ctx context.Context, uri string) ([]byte, error) {
	loc, err := Parse(uri)
	if err != nil {
		return nil, err
	}
	b, ok := r.backends[loc.Scheme]
	if !ok {
		return nil, fmt.Errorf("no backend for scheme %q", loc.Scheme)
	}

	ctx, span := tracer.Start(ctx, "datasource.Fetch",
		trace.WithAttributes(
			attribute.String("scheme", loc.Scheme),
			attribute.String("bucket", loc.Bucket),
			attribute.String("key", loc.Key),
		),
	)
	defer span.End()

	data, err := b.fetch(ctx, loc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("bytes", len(data)))
	return data, nil
}
