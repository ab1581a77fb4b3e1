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

package datasource

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

type fileBackend struct{}

func (fileBackend) fetch(_ context.Context, loc Location) ([]byte, error) {
	data, err := os.ReadFile(loc.Key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", loc.Key, ErrNotFound)
		}
		return nil, fmt.Errorf("read %s: %w", loc.Key, err)
	}
	return data, nil
}
