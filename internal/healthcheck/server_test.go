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

package healthcheck

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusString(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusStarting, "starting"},
		{StatusHealthy, "healthy"},
		{StatusUnhealthy, "unhealthy"},
		{Status(999), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.String())
		})
	}
}

func TestNewServerDefaultPort(t *testing.T) {
	assert.Equal(t, DefaultPort, NewServer(0).port)
	assert.Equal(t, 9000, NewServer(9000).port)
}

func fetch(t *testing.T, s *Server, path string) (int, Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func TestEndpointsWhileStarting(t *testing.T) {
	s := NewServer(0)

	code, resp := fetch(t, s, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "starting", resp.Status)

	code, _ = fetch(t, s, "/livez")
	assert.Equal(t, http.StatusOK, code)

	code, _ = fetch(t, s, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestReadyConditions(t *testing.T) {
	s := NewServer(0)
	s.SetStatus(StatusHealthy)
	assert.True(t, s.IsReady())

	s.SetReadyCondition(ConditionDataset, false)
	s.SetReadyCondition(ConditionGRPC, true)
	assert.False(t, s.IsReady())

	code, resp := fetch(t, s, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, map[string]bool{ConditionDataset: false, ConditionGRPC: true}, resp.Conditions)

	s.SetReadyCondition(ConditionDataset, true)
	code, resp = fetch(t, s, "/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Healthy)

	s.SetReadyCondition(ConditionGRPC, false)
	assert.False(t, s.IsReady())
	s.ClearReadyCondition(ConditionGRPC)
	assert.True(t, s.IsReady())
}

func TestUnhealthyFailsLiveness(t *testing.T) {
	s := NewServer(0)
	s.SetStatus(StatusUnhealthy)

	code, resp := fetch(t, s, "/livez")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.False(t, resp.Healthy)
}

func TestRunDisabledBlocksUntilCancel(t *testing.T) {
	s := NewServer(-1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
