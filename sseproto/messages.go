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
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

type DataType int32

const (
	DataTypeString  DataType = 0
	DataTypeNumeric DataType = 1
	DataTypeDual    DataType = 2
)

func (d DataType) String() string {
	switch d {
	case DataTypeString:
		return "STRING"
	case DataTypeNumeric:
		return "NUMERIC"
	case DataTypeDual:
		return "DUAL"
	default:
		return fmt.Sprintf("DataType(%d)", int32(d))
	}
}

type FunctionType int32

const (
	FunctionTypeScalar      FunctionType = 0
	FunctionTypeAggregation FunctionType = 1
	FunctionTypeTensor      FunctionType = 2
)

func (f FunctionType) String() string {
	switch f {
	case FunctionTypeScalar:
		return "Scalar"
	case FunctionTypeAggregation:
		return "Aggregation"
	case FunctionTypeTensor:
		return "Tensor"
	default:
		return fmt.Sprintf("FunctionType(%d)", int32(f))
	}
}

// Empty is the request of GetCapabilities.
type Empty struct{}

func (*Empty) MarshalWire() ([]byte, error) { return nil, nil }

func (*Empty) UnmarshalWire(b []byte) error {
	return walk(b, func(protowire.Number, protowire.Type, []byte) (int, bool) { return 0, false })
}

type Parameter struct {
	DataType DataType
	Name     string
}

func (p *Parameter) appendWire(b []byte) []byte {
	b = appendVarintField(b, 1, uint64(p.DataType))
	b = appendStringField(b, 2, p.Name)
	return b
}

func (p *Parameter) UnmarshalWire(b []byte) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, bool) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			p.DataType = DataType(x)
			return n, true
		case num == 2 && typ == protowire.BytesType:
			return consumeString(v, &p.Name), true
		}
		return 0, false
	})
}

type FunctionDefinition struct {
	Name         string
	FunctionType FunctionType
	ReturnType   DataType
	Params       []*Parameter
	FunctionID   int32
}

func (f *FunctionDefinition) appendWire(b []byte) []byte {
	b = appendStringField(b, 1, f.Name)
	b = appendVarintField(b, 2, uint64(f.FunctionType))
	b = appendVarintField(b, 3, uint64(f.ReturnType))
	for _, p := range f.Params {
		b = appendMessageField(b, 4, p.appendWire(nil))
	}
	b = appendVarintField(b, 5, uint64(int64(f.FunctionID)))
	return b
}

func (f *FunctionDefinition) UnmarshalWire(b []byte) error {
	var perr error
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, bool) {
		switch {
		case num == 1 && typ == protowire.BytesType:
			return consumeString(v, &f.Name), true
		case num == 2 && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			f.FunctionType = FunctionType(x)
			return n, true
		case num == 3 && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			f.ReturnType = DataType(x)
			return n, true
		case num == 4 && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(v)
			if n >= 0 {
				p := &Parameter{}
				if err := p.UnmarshalWire(raw); err != nil && perr == nil {
					perr = err
				}
				f.Params = append(f.Params, p)
			}
			return n, true
		case num == 5 && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			f.FunctionID = int32(x)
			return n, true
		}
		return 0, false
	})
	if err != nil {
		return err
	}
	return perr
}

// Capabilities describes the plugin to the engine.
type Capabilities struct {
	AllowScript      bool
	Functions        []*FunctionDefinition
	PluginIdentifier string
	PluginVersion    string
}

func (c *Capabilities) MarshalWire() ([]byte, error) {
	var b []byte
	if c.AllowScript {
		b = appendVarintField(b, 1, 1)
	}
	for _, f := range c.Functions {
		b = appendMessageField(b, 2, f.appendWire(nil))
	}
	b = appendStringField(b, 3, c.PluginIdentifier)
	b = appendStringField(b, 4, c.PluginVersion)
	return b, nil
}

func (c *Capabilities) UnmarshalWire(b []byte) error {
	var ferr error
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, bool) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			c.AllowScript = x != 0
			return n, true
		case num == 2 && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(v)
			if n >= 0 {
				f := &FunctionDefinition{}
				if err := f.UnmarshalWire(raw); err != nil && ferr == nil {
					ferr = err
				}
				c.Functions = append(c.Functions, f)
			}
			return n, true
		case num == 3 && typ == protowire.BytesType:
			return consumeString(v, &c.PluginIdentifier), true
		case num == 4 && typ == protowire.BytesType:
			return consumeString(v, &c.PluginVersion), true
		}
		return 0, false
	})
	if err != nil {
		return err
	}
	return ferr
}

// Dual is a single value slot. The plugin only ever reads and writes StrData.
type Dual struct {
	NumData float64
	StrData string
}

func (d *Dual) appendWire(b []byte) []byte {
	if d.NumData != 0 || math.Signbit(d.NumData) {
		b = protowire.AppendTag(b, 1, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(d.NumData))
	}
	b = appendStringField(b, 2, d.StrData)
	return b
}

func (d *Dual) UnmarshalWire(b []byte) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, bool) {
		switch {
		case num == 1 && typ == protowire.Fixed64Type:
			x, n := protowire.ConsumeFixed64(v)
			d.NumData = math.Float64frombits(x)
			return n, true
		case num == 2 && typ == protowire.BytesType:
			return consumeString(v, &d.StrData), true
		}
		return 0, false
	})
}

type Row struct {
	Duals []*Dual
}

// Str returns the string value of dual i, or "" when the row is shorter.
func (r *Row) Str(i int) string {
	if r == nil || i < 0 || i >= len(r.Duals) || r.Duals[i] == nil {
		return ""
	}
	return r.Duals[i].StrData
}

func (r *Row) appendWire(b []byte) []byte {
	for _, d := range r.Duals {
		if d == nil {
			d = &Dual{}
		}
		b = appendMessageField(b, 1, d.appendWire(nil))
	}
	return b
}

func (r *Row) UnmarshalWire(b []byte) error {
	var derr error
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, bool) {
		if num != 1 || typ != protowire.BytesType {
			return 0, false
		}
		raw, n := protowire.ConsumeBytes(v)
		if n >= 0 {
			d := &Dual{}
			if err := d.UnmarshalWire(raw); err != nil && derr == nil {
				derr = err
			}
			r.Duals = append(r.Duals, d)
		}
		return n, true
	})
	if err != nil {
		return err
	}
	return derr
}

// BundledRows is one element of the ExecuteFunction streams.
type BundledRows struct {
	Rows []*Row
}

// StringRow builds a single-dual row.
func StringRow(s string) *Row {
	return &Row{Duals: []*Dual{{StrData: s}}}
}

func (br *BundledRows) MarshalWire() ([]byte, error) {
	var b []byte
	for _, r := range br.Rows {
		if r == nil {
			r = &Row{}
		}
		b = appendMessageField(b, 1, r.appendWire(nil))
	}
	return b, nil
}

func (br *BundledRows) UnmarshalWire(b []byte) error {
	var rerr error
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, bool) {
		if num != 1 || typ != protowire.BytesType {
			return 0, false
		}
		raw, n := protowire.ConsumeBytes(v)
		if n >= 0 {
			r := &Row{}
			if err := r.UnmarshalWire(raw); err != nil && rerr == nil {
				rerr = err
			}
			br.Rows = append(br.Rows, r)
		}
		return n, true
	})
	if err != nil {
		return err
	}
	return rerr
}

// FunctionRequestHeader travels in the qlik-functionrequestheader-bin metadata.
type FunctionRequestHeader struct {
	FunctionID int32
	Version    string
}

func (h *FunctionRequestHeader) MarshalWire() ([]byte, error) {
	var b []byte
	b = appendVarintField(b, 1, uint64(int64(h.FunctionID)))
	b = appendStringField(b, 2, h.Version)
	return b, nil
}

func (h *FunctionRequestHeader) UnmarshalWire(b []byte) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, bool) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			h.FunctionID = int32(x)
			return n, true
		case num == 2 && typ == protowire.BytesType:
			return consumeString(v, &h.Version), true
		}
		return 0, false
	})
}

// ScriptRequestHeader travels in the qlik-scriptrequestheader-bin metadata.
type ScriptRequestHeader struct {
	Script       string
	FunctionType FunctionType
	ReturnType   DataType
	Params       []*Parameter
}

func (h *ScriptRequestHeader) MarshalWire() ([]byte, error) {
	var b []byte
	b = appendStringField(b, 1, h.Script)
	b = appendVarintField(b, 2, uint64(h.FunctionType))
	b = appendVarintField(b, 3, uint64(h.ReturnType))
	for _, p := range h.Params {
		b = appendMessageField(b, 4, p.appendWire(nil))
	}
	return b, nil
}

func (h *ScriptRequestHeader) UnmarshalWire(b []byte) error {
	var perr error
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, bool) {
		switch {
		case num == 1 && typ == protowire.BytesType:
			return consumeString(v, &h.Script), true
		case num == 2 && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			h.FunctionType = FunctionType(x)
			return n, true
		case num == 3 && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			h.ReturnType = DataType(x)
			return n, true
		case num == 4 && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(v)
			if n >= 0 {
				p := &Parameter{}
				if err := p.UnmarshalWire(raw); err != nil && perr == nil {
					perr = err
				}
				h.Params = append(h.Params, p)
			}
			return n, true
		}
		return 0, false
	})
	if err != nil {
		return err
	}
	return perr
}

// CommonRequestHeader travels in the qlik-commonrequestheader-bin metadata.
type CommonRequestHeader struct {
	AppID  string
	Cursor string
	UserID string
}

func (h *CommonRequestHeader) MarshalWire() ([]byte, error) {
	var b []byte
	b = appendStringField(b, 1, h.AppID)
	b = appendStringField(b, 2, h.Cursor)
	b = appendStringField(b, 3, h.UserID)
	return b, nil
}

func (h *CommonRequestHeader) UnmarshalWire(b []byte) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, bool) {
		if typ != protowire.BytesType {
			return 0, false
		}
		switch num {
		case 1:
			return consumeString(v, &h.AppID), true
		case 2:
			return consumeString(v, &h.Cursor), true
		case 3:
			return consumeString(v, &h.UserID), true
		}
		return 0, false
	})
}

// walk iterates the fields of b. fn reports how many bytes of v it consumed
// and whether it recognised the field; unrecognised fields are skipped.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) (int, bool)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m, ok := fn(num, typ, b)
		if !ok {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return protowire.ParseError(m)
		}
		b = b[m:]
	}
	return nil
}

func consumeString(v []byte, dst *string) int {
	s, n := protowire.ConsumeString(v)
	if n >= 0 {
		*dst = s
	}
	return n
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendStringField(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessageField(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}
