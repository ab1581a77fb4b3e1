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
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cardinalhq/privacysse/sseproto"
)

// The manifest is usually JSON; yaml.v3 reads it as well as YAML.
type manifestFile struct {
	Functions []manifestFunction `yaml:"Functions"`
}

type manifestFunction struct {
	Name       string           `yaml:"Name"`
	ID         int32            `yaml:"Id"`
	Type       int32            `yaml:"Type"`
	ReturnType int32            `yaml:"ReturnType"`
	Params     map[string]int32 `yaml:"Params"`
}

// LoadManifest reads the function definitions advertised by GetCapabilities.
func LoadManifest(path string) ([]*sseproto.FunctionDefinition, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read function definitions: %w", err)
	}
	defs, err := ParseManifest(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return defs, nil
}

// ParseManifest converts a manifest document into function definitions.
// Parameters are ordered by name because the document stores them as a map.
func ParseManifest(b []byte) ([]*sseproto.FunctionDefinition, error) {
	var mf manifestFile
	if err := yaml.Unmarshal(b, &mf); err != nil {
		return nil, fmt.Errorf("parse function definitions: %w", err)
	}

	defs := make([]*sseproto.FunctionDefinition, 0, len(mf.Functions))
	seen := map[int32]string{}
	for _, f := range mf.Functions {
		if f.Name == "" {
			return nil, fmt.Errorf("function with id %d has no name", f.ID)
		}
		if other, ok := seen[f.ID]; ok {
			return nil, fmt.Errorf("functions %q and %q share id %d", other, f.Name, f.ID)
		}
		seen[f.ID] = f.Name

		names := make([]string, 0, len(f.Params))
		for name := range f.Params {
			names = append(names, name)
		}
		slices.Sort(names)

		def := &sseproto.FunctionDefinition{
			Name:         f.Name,
			FunctionID:   f.ID,
			FunctionType: sseproto.FunctionType(f.Type),
			ReturnType:   sseproto.DataType(f.ReturnType),
			Params:       make([]*sseproto.Parameter, 0, len(names)),
		}
		for _, name := range names {
			def.Params = append(def.Params, &sseproto.Parameter{Name: name, DataType: sseproto.DataType(f.Params[name])})
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// checkManifest logs every advertised function the dispatcher cannot serve.
// Such a function would fail on every call, so it is better found at startup.
func checkManifest(defs []*sseproto.FunctionDefinition, d *Dispatcher) int {
	missing := 0
	for _, def := range defs {
		names := make([]string, 0, len(def.Params))
		for _, p := range def.Params {
			names = append(names, p.Name)
		}
		slog.Info("Adding to capabilities",
			slog.String("function", def.Name),
			slog.Int("id", int(def.FunctionID)),
			slog.String("params", strings.Join(names, ",")))

		if !d.Has(FunctionID(def.FunctionID)) {
			missing++
			slog.Error("Advertised function has no handler",
				slog.String("function", def.Name),
				slog.Int("id", int(def.FunctionID)))
		}
	}
	return missing
}
