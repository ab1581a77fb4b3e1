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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 50054, cfg.Server.Port)
	require.Equal(t, 10, cfg.Server.MaxWorkers)
	require.Equal(t, "FuncDefs_qpi.json", cfg.Server.DefinitionFile)
	require.Equal(t, "logs", cfg.Audit.Dir)
	require.Equal(t, "QPI_Audit", cfg.Audit.Prefix)
	require.Equal(t, "YmdH", cfg.Audit.TimestampPattern)
	require.Equal(t, ",", cfg.Audit.Delimiter)
	require.Equal(t, "'", cfg.Audit.QuoteChar)
	require.Equal(t, time.Second, cfg.Audit.EnqueueTimeout)
	require.Equal(t, DefaultDatasetPath, cfg.Dataset.DataPath)
	require.Equal(t, DefaultDatasetPath, cfg.Dataset.AccessPath)
	require.Equal(t, "L", cfg.Dataset.ReloadFrequency)
	require.Equal(t, 8090, cfg.Health.Port)
	require.Equal(t, 0, cfg.Pprof.Port)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PRIVACYSSE_SERVER_PORT", "6000")
	t.Setenv("PRIVACYSSE_CRYPTO_KEY", "k")
	t.Setenv("PRIVACYSSE_DATASET_RELOAD_FREQUENCY", "H")
	t.Setenv("PRIVACYSSE_AUDIT_ENQUEUE_TIMEOUT", "250ms")
	t.Setenv("PRIVACYSSE_DATASET_WATCH", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 6000, cfg.Server.Port)
	require.Equal(t, "k", cfg.Crypto.Key)
	require.Equal(t, "H", cfg.Dataset.ReloadFrequency)
	require.Equal(t, 250*time.Millisecond, cfg.Audit.EnqueueTimeout)
	require.True(t, cfg.Dataset.Watch)
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "privacysse.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 7000
  max_workers: 4
audit:
  log_path: /var/log/qpi
  delimiter: ";"
dataset:
  data_path: s3://bucket/data.json
crypto:
  key: abc
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Server.MaxWorkers)
	assert.Equal(t, "/var/log/qpi", cfg.Audit.Dir)
	assert.Equal(t, ";", cfg.Audit.Delimiter)
	assert.Equal(t, "'", cfg.Audit.QuoteChar)
	assert.Equal(t, "s3://bucket/data.json", cfg.Dataset.DataPath)
	assert.Equal(t, DefaultDatasetPath, cfg.Dataset.ObfuscatedPath)
	assert.Equal(t, "abc", cfg.Crypto.Key)
}

func TestLoadLegacyINI(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "qpi.config")
	require.NoError(t, os.WriteFile(path, []byte(`[Audit]
auditLogPath = audit-logs
fileNamePrefix = Legacy
fileNameTSPattern = Ymd
delimiter = |

[Cryptography]
key = legacy-key

[getField]
dataPath = /srv/data.json
reloadFrequency = 30
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "audit-logs", cfg.Audit.Dir)
	assert.Equal(t, "Legacy", cfg.Audit.Prefix)
	assert.Equal(t, "Ymd", cfg.Audit.TimestampPattern)
	assert.Equal(t, "|", cfg.Audit.Delimiter)
	assert.Equal(t, "legacy-key", cfg.Crypto.Key)
	assert.Equal(t, "/srv/data.json", cfg.Dataset.DataPath)
	assert.Equal(t, "30", cfg.Dataset.ReloadFrequency)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadKeyFile(t *testing.T) {
	t.Chdir(t.TempDir())
	keyPath := filepath.Join(t.TempDir(), "key")
	require.NoError(t, os.WriteFile(keyPath, []byte("from-file\n"), 0o600))
	t.Setenv("PRIVACYSSE_CRYPTO_KEY_FILE", keyPath)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Crypto.Key)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crypto.key is required")

	cfg.Crypto.Key = "k"
	require.NoError(t, cfg.Validate())

	cfg.Server.MaxWorkers = 0
	cfg.Audit.Mode = "later"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_workers")
	assert.Contains(t, err.Error(), "audit.mode")
}
