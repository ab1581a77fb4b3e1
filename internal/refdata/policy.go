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
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

type PolicyKind int

const (
	PolicyNever PolicyKind = iota
	PolicyHourly
	PolicyDaily
	PolicyMinutes
)

// Policy decides when a loaded snapshot has gone stale.
type Policy struct {
	Kind     PolicyKind
	Interval time.Duration
}

// ParsePolicy understands "H" (hourly), "D" (daily) and a number of minutes,
// which may be fractional. Anything else, including negative numbers and
// intervals too long for a time.Duration, disables automatic refresh.
func ParsePolicy(s string) Policy {
	s = strings.ToUpper(strings.TrimSpace(s))
	switch s {
	case "H":
		return Policy{Kind: PolicyHourly, Interval: time.Hour}
	case "D":
		return Policy{Kind: PolicyDaily, Interval: 24 * time.Hour}
	}
	m, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(m) || m < 0 {
		return Policy{Kind: PolicyNever}
	}
	ns := m * float64(time.Minute)
	if math.IsInf(ns, 0) || ns >= math.MaxInt64 {
		return Policy{Kind: PolicyNever}
	}
	return Policy{Kind: PolicyMinutes, Interval: time.Duration(ns)}
}

// Due reports whether a snapshot loaded at last must be reloaded at now.
func (p Policy) Due(last, now time.Time) bool {
	if p.Kind == PolicyNever {
		return false
	}
	return !now.Before(last.Add(p.Interval))
}

func (p Policy) String() string {
	switch p.Kind {
	case PolicyHourly:
		return "hourly"
	case PolicyDaily:
		return "daily"
	case PolicyMinutes:
		return fmt.Sprintf("every %s", p.Interval)
	default:
		return "never"
	}
}
