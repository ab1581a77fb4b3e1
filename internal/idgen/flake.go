// Copyright (C) 2025 CardinalHQ, Inc
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

// Package idgen hands out identifiers that sort roughly by creation time,
// used to correlate the log lines of a single plugin call.
package idgen

import (
	"encoding/base32"
	"encoding/binary"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/sony/sonyflake"
)

var defaultGenerator *Generator

func init() {
	var err error
	defaultGenerator, err = newGenerator(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		panic(err)
	}
}

var callIDEncoding = base32.NewEncoding("0123456789abcdefghijklmnopqrstuv").WithPadding(base32.NoPadding)

type Generator struct {
	sf *sonyflake.Sonyflake
}

func newGenerator(epoch time.Time) (*Generator, error) {
	sf, err := sonyflake.New(sonyflake.Settings{StartTime: epoch})
	if err != nil {
		// No private IPv4 address to derive a machine id from.
		sf, err = sonyflake.New(sonyflake.Settings{
			StartTime: epoch,
			MachineID: func() (uint16, error) { return uint16(rand.Uint32()), nil },
		})
	}
	if err != nil {
		return nil, err
	}
	if sf == nil {
		return nil, errors.New("failed to create Sonyflake instance")
	}
	return &Generator{sf: sf}, nil
}

// NextID returns a positive id that increases with time. If the clock has
// run past the sonyflake range it falls back to a random id.
func (g *Generator) NextID() uint64 {
	v, err := g.sf.NextID()
	if err != nil {
		return rand.Uint64() >> 1
	}
	return v
}

// NextCallID renders NextID as 13 lowercase base32 characters. Ids from one
// process sort lexically in creation order.
func (g *Generator) NextCallID() string {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], g.NextID())
	return callIDEncoding.EncodeToString(b[:])
}

// NextCallID returns a call id from the process-wide generator.
func NextCallID() string {
	return defaultGenerator.NextCallID()
}

// NextID returns an id from the process-wide generator.
func NextID() uint64 {
	return defaultGenerator.NextID()
}
