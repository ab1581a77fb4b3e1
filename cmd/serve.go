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

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/privacysse/config"
	"github.com/cardinalhq/privacysse/internal/audit"
	"github.com/cardinalhq/privacysse/internal/cipher"
	"github.com/cardinalhq/privacysse/internal/datasource"
	"github.com/cardinalhq/privacysse/internal/debugging"
	"github.com/cardinalhq/privacysse/internal/healthcheck"
	"github.com/cardinalhq/privacysse/internal/refdata"
	"github.com/cardinalhq/privacysse/sse"
)

const readinessInterval = 5 * time.Second

func init() {
	var (
		port    int
		pemDir  string
		defFile string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "start the SSE plugin server",
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if c.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if c.Flags().Changed("pem-dir") {
				cfg.Server.PemDir = pemDir
			}
			if c.Flags().Changed("definition-file") {
				cfg.Server.DefinitionFile = defFile
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			servicename := "privacysse"
			addlAttrs := attribute.NewSet(attribute.String("plugin", cfg.Server.PluginIdentifier))
			doneCtx, doneFx, err := setupTelemetry(servicename, &addlAttrs)
			if err != nil {
				return fmt.Errorf("failed to setup telemetry: %w", err)
			}
			defer func() {
				if err := doneFx(); err != nil {
					slog.Error("Error shutting down telemetry", slog.Any("error", err))
				}
			}()

			return runServer(doneCtx, cfg)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "gRPC listen port")
	cmd.Flags().StringVar(&pemDir, "pem-dir", "", "directory holding the mutual TLS certificates")
	cmd.Flags().StringVar(&defFile, "definition-file", "", "function definition manifest")

	rootCmd.AddCommand(cmd)
}

func runServer(ctx context.Context, cfg *config.Config) (err error) {
	c, err := cipher.New(cfg.Crypto.Key)
	if err != nil {
		return err
	}

	loader := datasource.NewRouter(datasource.Options{
		S3Endpoint:      cfg.Dataset.S3Endpoint,
		S3PathStyle:     cfg.Dataset.S3PathStyle,
		AzureAccountURL: cfg.Dataset.AzureAccountURL,
	})
	cache := refdata.New(loader, refdata.Sources{
		Data:       cfg.Dataset.DataPath,
		Obfuscated: cfg.Dataset.ObfuscatedPath,
		Access:     cfg.Dataset.AccessPath,
	}, refdata.ParsePolicy(cfg.Dataset.ReloadFrequency))

	sink, err := audit.NewSink(cfg.Audit)
	if err != nil {
		return fmt.Errorf("failed to create audit sink: %w", err)
	}
	auditor := audit.NewDispatcher(sink, cfg.Audit)
	defer func() {
		if cerr := auditor.Close(); cerr != nil {
			err = multierror.Append(err, fmt.Errorf("close audit dispatcher: %w", cerr)).ErrorOrNil()
		}
	}()

	defs, err := sse.LoadManifest(cfg.Server.DefinitionFile)
	if err != nil {
		return err
	}

	handlers := sse.NewHandlers(c, cache, auditor)
	svc, err := sse.NewService(sse.Options{
		Addr:             fmt.Sprintf(":%d", cfg.Server.Port),
		PemDir:           cfg.Server.PemDir,
		MaxWorkers:       cfg.Server.MaxWorkers,
		Functions:        defs,
		PluginIdentifier: cfg.Server.PluginIdentifier,
		PluginVersion:    cfg.Server.PluginVersion,
	}, sse.NewDispatcher(handlers))
	if err != nil {
		return err
	}

	health := healthcheck.NewServer(cfg.Health.Port)
	health.SetReadyCondition(healthcheck.ConditionGRPC, false)
	health.SetReadyCondition(healthcheck.ConditionDataset, false)

	// A dataset that cannot be loaded yet is retried on the first lookup.
	if err := cache.EnsureFresh(ctx); err != nil {
		slog.Warn("Initial reference dataset load failed", slog.Any("error", err))
	}
	updateDatasetReady(health, cache)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return health.Run(gctx) })
	g.Go(func() error { return debugging.RunPprof(gctx, cfg.Pprof.Port) })
	g.Go(func() error { return cache.RunScheduler(gctx) })
	if cfg.Dataset.Watch {
		g.Go(func() error { return cache.Watch(gctx) })
	}
	g.Go(func() error {
		ticker := time.NewTicker(readinessInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				updateDatasetReady(health, cache)
			}
		}
	})
	g.Go(func() error {
		health.SetReadyCondition(healthcheck.ConditionGRPC, true)
		health.SetStatus(healthcheck.StatusHealthy)
		err := svc.Run(gctx)
		health.SetReadyCondition(healthcheck.ConditionGRPC, false)
		if err != nil {
			health.SetStatus(healthcheck.StatusUnhealthy)
		}
		return err
	})

	return g.Wait()
}

func updateDatasetReady(health *healthcheck.Server, cache *refdata.Cache) {
	ready := cache.Snapshot() != nil
	health.SetReadyCondition(healthcheck.ConditionDataset, ready)
	recordDatasetReady(ready)
}
