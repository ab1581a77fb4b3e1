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
	"fmt"
	"slices"

	"google.golang.org/grpc/metadata"

	"github.com/cardinalhq/privacysse/sseproto"
)

// FunctionID is the numeric id the engine sends in the function request
// header. The values are part of the published function manifest.
type FunctionID int32

const (
	FunctionDecrypt FunctionID = iota
	FunctionEncrypt
	FunctionFieldLookup
	FunctionCacheEcho
	FunctionNoCacheEcho
)

func (f FunctionID) String() string {
	switch f {
	case FunctionDecrypt:
		return "decrypt"
	case FunctionEncrypt:
		return "encrypt"
	case FunctionFieldLookup:
		return "fieldLookup"
	case FunctionCacheEcho:
		return "cacheEcho"
	case FunctionNoCacheEcho:
		return "noCacheEcho"
	default:
		return fmt.Sprintf("FunctionID(%d)", int32(f))
	}
}

// ErrUnknownFunction means the engine called an id this plugin has no
// handler for, which only happens when the manifest and the dispatch table
// disagree.
var ErrUnknownFunction = errors.New("unknown function id")

// RowReader yields the inbound batches of one call and returns io.EOF at
// the end of the stream.
type RowReader interface {
	Recv() (*sseproto.BundledRows, error)
}

// RowWriter carries result batches and response headers back to the engine.
type RowWriter interface {
	Send(*sseproto.BundledRows) error
	SetHeader(metadata.MD) error
}

type Handler func(ctx context.Context, in RowReader, out RowWriter) error

// Dispatcher routes a call to its handler through a table fixed at
// construction.
type Dispatcher struct {
	handlers map[FunctionID]Handler
}

func NewDispatcher(h *Handlers) *Dispatcher {
	return &Dispatcher{
		handlers: map[FunctionID]Handler{
			FunctionDecrypt:     h.Decrypt,
			FunctionEncrypt:     h.Encrypt,
			FunctionFieldLookup: h.FieldLookup,
			FunctionCacheEcho:   h.CacheEcho,
			FunctionNoCacheEcho: h.NoCacheEcho,
		},
	}
}

// Has reports whether id has a handler.
func (d *Dispatcher) Has(id FunctionID) bool {
	_, ok := d.handlers[id]
	return ok
}

// IDs returns the dispatchable ids in ascending order.
func (d *Dispatcher) IDs() []FunctionID {
	ids := make([]FunctionID, 0, len(d.handlers))
	for id := range d.handlers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (d *Dispatcher) Dispatch(ctx context.Context, id FunctionID, in RowReader, out RowWriter) error {
	h, ok := d.handlers[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownFunction, int32(id))
	}
	return h(ctx, in, out)
}
