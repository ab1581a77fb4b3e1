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
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// dropLogInterval bounds how often a drop is logged per reason. Every drop is
// still counted.
const dropLogInterval = 10 * time.Second

const (
	ModeBackground = "background"
	ModeSync       = "sync"
)

// Config mirrors the audit section of the service configuration.
type Config struct {
	Dir              string        `mapstructure:"log_path"`
	Prefix           string        `mapstructure:"file_name_prefix"`
	TimestampPattern string        `mapstructure:"file_name_ts_pattern"`
	Delimiter        string        `mapstructure:"delimiter"`
	QuoteChar        string        `mapstructure:"quotechar"`
	Mode             string        `mapstructure:"mode"`
	QueueSize        int           `mapstructure:"queue_size"`
	EnqueueTimeout   time.Duration `mapstructure:"enqueue_timeout"`
}

func DefaultConfig() Config {
	return Config{
		Dir:              "logs",
		Prefix:           "QPI_Audit",
		TimestampPattern: "YmdH",
		Delimiter:        ",",
		QuoteChar:        "'",
		Mode:             ModeBackground,
		QueueSize:        1000,
		EnqueueTimeout:   time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Dir == "" {
		c.Dir = d.Dir
	}
	if c.Prefix == "" {
		c.Prefix = d.Prefix
	}
	if c.TimestampPattern == "" {
		c.TimestampPattern = d.TimestampPattern
	}
	if c.Delimiter == "" {
		c.Delimiter = d.Delimiter
	}
	if c.QuoteChar == "" {
		c.QuoteChar = d.QuoteChar
	}
	if c.Mode == "" {
		c.Mode = d.Mode
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.EnqueueTimeout <= 0 {
		c.EnqueueTimeout = d.EnqueueTimeout
	}
	return c
}

// Appender is anything that can persist a batch of audit records.
type Appender interface {
	Append(records []Record) error
}

// Dispatcher hands record batches to an Appender without making the caller
// wait for the write. Batches are queued on a bounded channel drained by a
// single worker; when the queue stays full for the enqueue timeout the batch
// is dropped and logged. In sync mode batches are written inline.
type Dispatcher struct {
	sink    Appender
	inline  bool
	timeout time.Duration

	queue chan []Record
	done  chan struct{}
	wg    sync.WaitGroup

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool

	// reason -> drops since the last logged one
	dropLog *ttlcache.Cache[string, *atomic.Int64]
}

func NewDispatcher(sink Appender, cfg Config) *Dispatcher {
	cfg = cfg.withDefaults()
	d := &Dispatcher{
		sink:    sink,
		inline:  cfg.Mode == ModeSync,
		timeout: cfg.EnqueueTimeout,
		done:    make(chan struct{}),
		dropLog: ttlcache.New(
			ttlcache.WithTTL[string, *atomic.Int64](dropLogInterval),
			ttlcache.WithDisableTouchOnHit[string, *atomic.Int64](),
		),
	}
	if !d.inline {
		d.queue = make(chan []Record, cfg.QueueSize)
		d.wg.Add(1)
		go d.worker()
	}
	slog.Info("Audit dispatcher started",
		slog.String("mode", cfg.Mode),
		slog.Int("queueSize", cfg.QueueSize),
		slog.Duration("enqueueTimeout", cfg.EnqueueTimeout))
	return d
}

// Submit queues one batch. It never reports write failures; those are
// logged by the worker.
func (d *Dispatcher) Submit(ctx context.Context, records []Record) {
	if len(records) == 0 {
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(ctx, records, "dispatcher closed")
		return
	}

	if d.inline {
		d.write(ctx, records)
		return
	}

	select {
	case d.queue <- records:
		return
	default:
	}

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()
	select {
	case d.queue <- records:
	case <-timer.C:
		d.drop(ctx, records, "queue full")
	}
}

// Close stops accepting batches and waits until every queued batch has been
// written.
func (d *Dispatcher) Close() error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()

		close(d.done)
		d.wg.Wait()
		slog.Info("Audit dispatcher stopped")
	})
	return nil
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	ctx := context.Background()
	for {
		select {
		case records := <-d.queue:
			d.write(ctx, records)
		case <-d.done:
			for {
				select {
				case records := <-d.queue:
					d.write(ctx, records)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) write(ctx context.Context, records []Record) {
	if err := d.sink.Append(records); err != nil {
		slog.Error("Failed to write audit records", slog.Int("records", len(records)), slog.Any("error", err))
		droppedCounter.Add(ctx, int64(len(records)), metric.WithAttributes(attribute.String("reason", "write_error")))
		return
	}
	writtenCounter.Add(ctx, int64(len(records)))
}

func (d *Dispatcher) drop(ctx context.Context, records []Record, reason string) {
	droppedCounter.Add(ctx, int64(len(records)), metric.WithAttributes(attribute.String("reason", reason)))
	item, seen := d.dropLog.GetOrSet(reason, &atomic.Int64{})
	if seen {
		item.Value().Add(1)
		return
	}
	slog.Error("Dropping audit records", slog.String("reason", reason), slog.Int("records", len(records)))
}

// suppressedDrops reports how many drops for reason went unlogged in the
// current window.
func (d *Dispatcher) suppressedDrops(reason string) int64 {
	item := d.dropLog.Get(reason)
	if item == nil {
		return 0
	}
	return item.Value().Load()
}
