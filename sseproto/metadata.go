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

package sseproto

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/metadata"
)

// Metadata keys used by the engine. The -bin suffix makes grpc carry the
// values base64-encoded on the wire and hand them back as raw bytes.
const (
	FunctionRequestHeaderKey = "qlik-functionrequestheader-bin"
	ScriptRequestHeaderKey   = "qlik-scriptrequestheader-bin"
	CommonRequestHeaderKey   = "qlik-commonrequestheader-bin"

	CacheKey     = "qlik-cache"
	CacheNoStore = "no-store"
)

var ErrMissingHeader = errors.New("request header missing from metadata")

// NoCacheHeader is the response header telling the engine not to cache results.
func NoCacheHeader() metadata.MD {
	return metadata.Pairs(CacheKey, CacheNoStore)
}

func headerFromContext(ctx context.Context, key string, into Message) error {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return fmt.Errorf("%s: %w", key, ErrMissingHeader)
	}
	vals := md.Get(key)
	if len(vals) == 0 {
		return fmt.Errorf("%s: %w", key, ErrMissingHeader)
	}
	if err := into.UnmarshalWire([]byte(vals[0])); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func FunctionHeaderFromContext(ctx context.Context) (*FunctionRequestHeader, error) {
	h := &FunctionRequestHeader{}
	if err := headerFromContext(ctx, FunctionRequestHeaderKey, h); err != nil {
		return nil, err
	}
	return h, nil
}

func ScriptHeaderFromContext(ctx context.Context) (*ScriptRequestHeader, error) {
	h := &ScriptRequestHeader{}
	if err := headerFromContext(ctx, ScriptRequestHeaderKey, h); err != nil {
		return nil, err
	}
	return h, nil
}

// CommonHeaderFromContext returns the app/user header. The engine does not
// send it on every call, so callers treat an error as "unknown caller".
func CommonHeaderFromContext(ctx context.Context) (*CommonRequestHeader, error) {
	h := &CommonRequestHeader{}
	if err := headerFromContext(ctx, CommonRequestHeaderKey, h); err != nil {
		return nil, err
	}
	return h, nil
}

// AppendHeader attaches a binary header to an outgoing client context.
func AppendHeader(ctx context.Context, key string, m Message) (context.Context, error) {
	b, err := m.MarshalWire()
	if err != nil {
		return ctx, err
	}
	return metadata.AppendToOutgoingContext(ctx, key, string(b)), nil
}
