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
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/privacysse/internal/audit"
	"github.com/cardinalhq/privacysse/internal/cipher"
	"github.com/cardinalhq/privacysse/internal/logctx"
	"github.com/cardinalhq/privacysse/internal/refdata"
	"github.com/cardinalhq/privacysse/sseproto"
)

// Values returned in place of a result when a single row fails. The engine
// always gets one output row per input row.
const (
	DecryptFailedValue = "Can not decrypt data, see log file."
	LookupFailedValue  = "Can not retrieve requested data, see log file."
)

const echoTimeLayout = "2006-01-02T15:04:05.000000"

// Lookuper is the read side of the reference data cache.
type Lookuper interface {
	EnsureFresh(ctx context.Context) error
	Lookup(recordID, field, userID string) (string, refdata.Disclosure, error)
}

// AuditSubmitter accepts a batch of audit records without blocking on the
// write.
type AuditSubmitter interface {
	Submit(ctx context.Context, records []audit.Record)
}

// Handlers implements the five plugin functions. Each one consumes its
// input stream to the end within the calling goroutine.
type Handlers struct {
	cipher cipher.Cipher
	data   Lookuper
	audit  AuditSubmitter
	now    func() time.Time
}

type HandlersOption func(*Handlers)

func WithHandlersClock(now func() time.Time) HandlersOption {
	return func(h *Handlers) { h.now = now }
}

func NewHandlers(c cipher.Cipher, data Lookuper, auditor AuditSubmitter, opts ...HandlersOption) *Handlers {
	h := &Handlers{
		cipher: c,
		data:   data,
		audit:  auditor,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// forEachBatch calls fn for every inbound batch until the stream ends.
func forEachBatch(in RowReader, fn func(*sseproto.BundledRows) error) error {
	for {
		batch, err := in.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("receive rows: %w", err)
		}
		if err := fn(batch); err != nil {
			return err
		}
	}
}

func countRows(ctx context.Context, fn FunctionID, n int) {
	rowsCounter.Add(ctx, int64(n), metric.WithAttributes(attribute.String("function", fn.String())))
}

// Decrypt opens the token in the first column of every row. Every row is
// audited with the reference, user and comment from columns 1 to 3,
// whether or not decryption succeeded.
func (h *Handlers) Decrypt(ctx context.Context, in RowReader, out RowWriter) error {
	logger := logctx.FromContext(ctx)
	callStart := h.now().UTC()

	return forEachBatch(in, func(batch *sseproto.BundledRows) error {
		resp := &sseproto.BundledRows{Rows: make([]*sseproto.Row, 0, len(batch.Rows))}
		records := make([]audit.Record, 0, len(batch.Rows))

		for _, row := range batch.Rows {
			value := DecryptFailedValue
			plain, err := h.cipher.Decrypt([]byte(row.Str(0)))
			if err == nil {
				value = string(plain)
			} else {
				decryptFailureCounter.Add(ctx, 1)
				logger.Error("Decryption failed: the value is not encrypted or the configured key does not match the key it was encrypted with. Update the key in the configuration or re-encrypt the data with the current key.",
					slog.Any("error", err))
			}
			resp.Rows = append(resp.Rows, sseproto.StringRow(value))
			records = append(records, audit.Record{
				Time:      callStart,
				RecordRef: row.Str(1),
				UserRef:   row.Str(2),
				Comment:   row.Str(3),
			})
		}

		countRows(ctx, FunctionDecrypt, len(batch.Rows))
		if err := out.Send(resp); err != nil {
			return fmt.Errorf("send rows: %w", err)
		}
		h.audit.Submit(ctx, records)
		return nil
	})
}

// Encrypt seals the first column of every row, preserving row order.
func (h *Handlers) Encrypt(ctx context.Context, in RowReader, out RowWriter) error {
	return forEachBatch(in, func(batch *sseproto.BundledRows) error {
		resp := &sseproto.BundledRows{Rows: make([]*sseproto.Row, 0, len(batch.Rows))}
		for _, row := range batch.Rows {
			tok, err := h.cipher.Encrypt([]byte(row.Str(0)))
			if err != nil {
				return fmt.Errorf("encrypt row: %w", err)
			}
			resp.Rows = append(resp.Rows, sseproto.StringRow(string(tok)))
		}
		countRows(ctx, FunctionEncrypt, len(batch.Rows))
		if err := out.Send(resp); err != nil {
			return fmt.Errorf("send rows: %w", err)
		}
		return nil
	})
}

// FieldLookup resolves (field, record, user, comment) rows against the
// reference data. Users on the allow-list get the real value and the
// disclosure is audited; everyone else gets the obfuscated value.
func (h *Handlers) FieldLookup(ctx context.Context, in RowReader, out RowWriter) error {
	logger := logctx.FromContext(ctx)
	callStart := h.now().UTC()

	return forEachBatch(in, func(batch *sseproto.BundledRows) error {
		if err := h.data.EnsureFresh(ctx); err != nil {
			logger.Warn("Serving lookups from the previous reference dataset", slog.Any("error", err))
		}

		resp := &sseproto.BundledRows{Rows: make([]*sseproto.Row, 0, len(batch.Rows))}
		var records []audit.Record

		for _, row := range batch.Rows {
			if len(row.Duals) < 4 {
				logger.Error("Malformed lookup row, expected field, record, user and comment",
					slog.Int("columns", len(row.Duals)))
				lookupCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "malformed")))
				resp.Rows = append(resp.Rows, sseproto.StringRow(LookupFailedValue))
				continue
			}
			field, record, user, comment := row.Str(0), row.Str(1), row.Str(2), row.Str(3)

			value, disclosure, err := h.data.Lookup(record, field, user)
			if err != nil {
				logger.Error("Error in retrieving data",
					slog.String("record", record),
					slog.String("field", field),
					slog.String("user", user),
					slog.String("comment", comment),
					slog.Any("error", err))
				lookupCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "not_found")))
				resp.Rows = append(resp.Rows, sseproto.StringRow(LookupFailedValue))
				continue
			}

			lookupCounter.Add(ctx, 1, metric.WithAttributes(
				attribute.String("outcome", "ok"),
				attribute.String("disclosure", disclosure.String())))
			if disclosure == refdata.Full {
				records = append(records, audit.Record{
					Time:      callStart,
					RecordRef: record,
					UserRef:   user,
					Comment:   "Field: " + field + " - " + comment,
				})
			}
			resp.Rows = append(resp.Rows, sseproto.StringRow(value))
		}

		countRows(ctx, FunctionFieldLookup, len(batch.Rows))
		if err := out.Send(resp); err != nil {
			return fmt.Errorf("send rows: %w", err)
		}
		h.audit.Submit(ctx, records)
		return nil
	})
}

// CacheEcho appends the current local time to the first column and sends
// each row as soon as it is produced.
func (h *Handlers) CacheEcho(ctx context.Context, in RowReader, out RowWriter) error {
	return h.echo(ctx, FunctionCacheEcho, in, out)
}

// NoCacheEcho is CacheEcho with a response header telling the engine not to
// cache the result.
func (h *Handlers) NoCacheEcho(ctx context.Context, in RowReader, out RowWriter) error {
	if err := out.SetHeader(sseproto.NoCacheHeader()); err != nil {
		return fmt.Errorf("set cache header: %w", err)
	}
	return h.echo(ctx, FunctionNoCacheEcho, in, out)
}

func (h *Handlers) echo(ctx context.Context, fn FunctionID, in RowReader, out RowWriter) error {
	return forEachBatch(in, func(batch *sseproto.BundledRows) error {
		for _, row := range batch.Rows {
			result := row.Str(0) + " " + h.now().Format(echoTimeLayout)
			if err := out.Send(&sseproto.BundledRows{Rows: []*sseproto.Row{sseproto.StringRow(result)}}); err != nil {
				return fmt.Errorf("send row: %w", err)
			}
		}
		countRows(ctx, fn, len(batch.Rows))
		return nil
	})
}
