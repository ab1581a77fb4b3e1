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
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	meter = otel.Meter("github.com/cardinalhq/privacysse/sse")

	rowsCounter           metric.Int64Counter
	decryptFailureCounter metric.Int64Counter
	lookupCounter         metric.Int64Counter
	callDuration          metric.Float64Histogram
	poolWaitDuration      metric.Float64Histogram
)

func init() {
	var err error
	rowsCounter, err = meter.Int64Counter(
		"privacysse.rows.processed",
		metric.WithDescription("Rows processed, by function"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create rows.processed counter: %w", err))
	}

	decryptFailureCounter, err = meter.Int64Counter(
		"privacysse.decrypt.failures",
		metric.WithDescription("Values that could not be decrypted with the configured key"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create decrypt.failures counter: %w", err))
	}

	lookupCounter, err = meter.Int64Counter(
		"privacysse.lookups",
		metric.WithDescription("Field lookups, by disclosure level and outcome"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create lookups counter: %w", err))
	}

	callDuration, err = meter.Float64Histogram(
		"privacysse.call.duration",
		metric.WithDescription("Duration of ExecuteFunction calls"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create call.duration histogram: %w", err))
	}

	poolWaitDuration, err = meter.Float64Histogram(
		"privacysse.pool.wait",
		metric.WithDescription("Time calls waited for a worker slot"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create pool.wait histogram: %w", err))
	}
}
