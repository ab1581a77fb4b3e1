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
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	meter = otel.Meter("github.com/cardinalhq/privacysse/internal/audit")

	writtenCounter metric.Int64Counter
	droppedCounter metric.Int64Counter
)

func init() {
	var err error
	writtenCounter, err = meter.Int64Counter(
		"privacysse.audit.records.written",
		metric.WithDescription("Audit records appended to audit files"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create audit.records.written counter: %w", err))
	}

	droppedCounter, err = meter.Int64Counter(
		"privacysse.audit.records.dropped",
		metric.WithDescription("Audit records that could not be written"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create audit.records.dropped counter: %w", err))
	}
}
