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
	"fmt"

	"google.golang.org/protobuf/proto"
)

// Message is implemented by every type in this package that goes on the wire.
type Message interface {
	MarshalWire() ([]byte, error)
	UnmarshalWire([]byte) error
}

// Codec encodes Message values and falls back to the protobuf runtime for
// generated messages, so services such as grpc health can share a server
// that forces this codec.
type Codec struct{}

// Name is "proto" so the content-subtype matches what the engine sends.
func (Codec) Name() string { return "proto" }

func (Codec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case Message:
		return m.MarshalWire()
	case proto.Message:
		return proto.Marshal(m)
	default:
		return nil, fmt.Errorf("sseproto: cannot marshal %T", v)
	}
}

func (Codec) Unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case Message:
		return m.UnmarshalWire(data)
	case proto.Message:
		return proto.Unmarshal(data, m)
	default:
		return fmt.Errorf("sseproto: cannot unmarshal into %T", v)
	}
}
