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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"

	"github.com/spf13/viper"

	"github.com/cardinalhq/privacysse/internal/audit"
)

// Config aggregates configuration for the application.
// Each field is owned by its respective package.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Audit   audit.Config  `mapstructure:"audit"`
	Crypto  CryptoConfig  `mapstructure:"crypto"`
	Dataset DatasetConfig `mapstructure:"dataset"`
	Health  HealthConfig  `mapstructure:"health"`
	Pprof   PprofConfig   `mapstructure:"pprof"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
	// PemDir holds sse_server_key.pem, sse_server_cert.pem and root_cert.pem.
	// Empty means plaintext.
	PemDir           string `mapstructure:"pem_dir"`
	MaxWorkers       int    `mapstructure:"max_workers"`
	DefinitionFile   string `mapstructure:"definition_file"`
	PluginIdentifier string `mapstructure:"plugin_identifier"`
	PluginVersion    string `mapstructure:"plugin_version"`
}

type CryptoConfig struct {
	Key string `mapstructure:"key"`
	// KeyFile is read when Key is empty, so the key can live in a mounted secret.
	KeyFile string `mapstructure:"key_file"`
}

type DatasetConfig struct {
	DataPath       string `mapstructure:"data_path"`
	ObfuscatedPath string `mapstructure:"obfuscated_path"`
	AccessPath     string `mapstructure:"access_path"`
	// ReloadFrequency is H, D, a number of minutes, or anything else for never.
	ReloadFrequency string `mapstructure:"reload_frequency"`
	Watch           bool   `mapstructure:"watch"`
	S3Endpoint      string `mapstructure:"s3_endpoint"`
	S3PathStyle     bool   `mapstructure:"s3_path_style"`
	AzureAccountURL string `mapstructure:"azure_account_url"`
}

type HealthConfig struct {
	Port int `mapstructure:"port"`
}

type PprofConfig struct {
	// Port 0 disables the profiler.
	Port int `mapstructure:"port"`
}

const DefaultDatasetPath = "/data/data.json"

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:             50054,
			MaxWorkers:       10,
			DefinitionFile:   "FuncDefs_qpi.json",
			PluginIdentifier: "Qlik Privacy Integration",
			PluginVersion:    "v1.0.0-beta1",
		},
		Audit: audit.DefaultConfig(),
		Dataset: DatasetConfig{
			DataPath:        DefaultDatasetPath,
			ObfuscatedPath:  DefaultDatasetPath,
			AccessPath:      DefaultDatasetPath,
			ReloadFrequency: "L",
		},
		Health: HealthConfig{Port: 8090},
	}
}

// legacyKeys maps the section/key names of the INI file the plugin used to
// read (configs/qpi.config) onto the current keys.
var legacyKeys = map[string]string{
	"audit.auditlogpath":       "audit.log_path",
	"audit.filenameprefix":     "audit.file_name_prefix",
	"audit.filenametspattern":  "audit.file_name_ts_pattern",
	"cryptography.key":         "crypto.key",
	"getfield.datapath":        "dataset.data_path",
	"getfield.obfuscatedpath":  "dataset.obfuscated_path",
	"getfield.accesspath":      "dataset.access_path",
	"getfield.reloadfrequency": "dataset.reload_frequency",
}

// Load reads configuration from an optional file and environment variables.
// Environment variables use the prefix "PRIVACYSSE" and the dot character
// in keys is replaced by an underscore. For example, "crypto.key" becomes
// "PRIVACYSSE_CRYPTO_KEY". With an empty path, privacysse.{yaml,json,toml,...}
// is looked up in the working directory and /configs, and its absence is not
// an error. Files with an extension viper does not know, such as qpi.config,
// are read as INI.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
		ext := strings.TrimPrefix(filepath.Ext(path), ".")
		if !slices.Contains(viper.SupportedExts, ext) {
			v.SetConfigType("ini")
		}
	} else {
		v.SetConfigName("privacysse")
		v.AddConfigPath(".")
		v.AddConfigPath("/configs")
	}
	v.SetEnvPrefix("PRIVACYSSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	for legacy, key := range legacyKeys {
		if v.IsSet(legacy) && !v.IsSet(key) {
			v.Set(key, v.Get(legacy))
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := cfg.resolveKey(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) resolveKey() error {
	if c.Crypto.Key != "" || c.Crypto.KeyFile == "" {
		return nil
	}
	b, err := os.ReadFile(c.Crypto.KeyFile)
	if err != nil {
		return fmt.Errorf("failed to read crypto key file: %w", err)
	}
	c.Crypto.Key = strings.TrimSpace(string(b))
	return nil
}

// Validate reports settings the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Crypto.Key == "" {
		errs = append(errs, errors.New("crypto.key is required"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}
	if c.Server.MaxWorkers <= 0 {
		errs = append(errs, fmt.Errorf("server.max_workers must be positive, got %d", c.Server.MaxWorkers))
	}
	if c.Audit.Mode != audit.ModeBackground && c.Audit.Mode != audit.ModeSync {
		errs = append(errs, fmt.Errorf("audit.mode must be %q or %q, got %q", audit.ModeBackground, audit.ModeSync, c.Audit.Mode))
	}
	return errors.Join(errs...)
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(slices.Clone(parts), tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
