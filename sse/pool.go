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
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/cardinalhq/privacysse/sseproto"
)

// workerPool bounds how many calls run at once. Calls beyond the limit wait
// for a slot until their context ends.
type workerPool struct {
	sem  *semaphore.Weighted
	size int
}

func newWorkerPool(size int) *workerPool {
	if size <= 0 {
		size = DefaultMaxWorkers
	}
	return &workerPool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

func (p *workerPool) acquire(ctx context.Context, method string) error {
	start := time.Now()
	err := p.sem.Acquire(ctx, 1)
	poolWaitDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("method", method)))
	if err != nil {
		return status.FromContextError(err).Err()
	}
	return nil
}

// pooled reports whether method counts against the pool. Health checks
// must answer even when every worker is busy.
func pooled(method string) bool {
	return strings.HasPrefix(method, "/"+sseproto.ConnectorServiceName+"/")
}

func (p *workerPool) unaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if !pooled(info.FullMethod) {
		return handler(ctx, req)
	}
	if err := p.acquire(ctx, info.FullMethod); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)
	return handler(ctx, req)
}

func (p *workerPool) streamInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	if !pooled(info.FullMethod) {
		return handler(srv, ss)
	}
	if err := p.acquire(ss.Context(), info.FullMethod); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return handler(srv, ss)
}
