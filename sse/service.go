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

// Package sse serves the plugin functions over the qlik.sse.Connector gRPC
// service: capability advertisement, function dispatch and the row handlers.
package sse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/cardinalhq/privacysse/internal/idgen"
	"github.com/cardinalhq/privacysse/internal/logctx"
	"github.com/cardinalhq/privacysse/sseproto"
)

const (
	DefaultAddr             = ":50054"
	DefaultMaxWorkers       = 10
	DefaultPluginIdentifier = "Qlik Privacy Integration"
	DefaultPluginVersion    = "v1.0.0-beta1"
)

type Options struct {
	Addr string
	// Listener, when set, is used instead of listening on Addr.
	Listener net.Listener
	// PemDir enables mutual TLS with the certificates in that directory.
	PemDir           string
	MaxWorkers       int
	Functions        []*sseproto.FunctionDefinition
	PluginIdentifier string
	PluginVersion    string
}

type Service struct {
	sseproto.UnimplementedConnectorServer
	server       *grpc.Server
	listener     net.Listener
	healthCheck  *health.Server
	dispatcher   *Dispatcher
	capabilities *sseproto.Capabilities
	instanceID   string
	secure       bool
}

func NewService(opts Options, dispatcher *Dispatcher) (*Service, error) {
	if opts.PluginIdentifier == "" {
		opts.PluginIdentifier = DefaultPluginIdentifier
	}
	if opts.PluginVersion == "" {
		opts.PluginVersion = DefaultPluginVersion
	}

	pool := newWorkerPool(opts.MaxWorkers)
	serverOpts := []grpc.ServerOption{
		grpc.ForceServerCodec(sseproto.Codec{}),
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(pool.unaryInterceptor),
		grpc.ChainStreamInterceptor(pool.streamInterceptor),
	}
	if opts.PemDir != "" {
		creds, err := loadTLSCredentials(opts.PemDir)
		if err != nil {
			return nil, err
		}
		serverOpts = append(serverOpts, grpc.Creds(creds))
	}

	listener := opts.Listener
	if listener == nil {
		addr := opts.Addr
		if addr == "" {
			addr = DefaultAddr
		}
		var err error
		listener, err = net.Listen("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
	}

	s := &Service{
		server:      grpc.NewServer(serverOpts...),
		listener:    listener,
		healthCheck: health.NewServer(),
		dispatcher:  dispatcher,
		capabilities: &sseproto.Capabilities{
			AllowScript:      false,
			Functions:        opts.Functions,
			PluginIdentifier: opts.PluginIdentifier,
			PluginVersion:    opts.PluginVersion,
		},
		instanceID: uuid.New().String(),
		secure:     opts.PemDir != "",
	}

	if missing := checkManifest(opts.Functions, dispatcher); missing > 0 {
		slog.Error("Function manifest advertises functions that cannot be served", slog.Int("count", missing))
	}

	sseproto.RegisterConnectorServer(s.server, s)
	grpc_health_v1.RegisterHealthServer(s.server, s.healthCheck)
	return s, nil
}

// Addr is the address the service accepts connections on.
func (s *Service) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *Service) Run(ctx context.Context) error {
	mode := "insecure"
	if s.secure {
		mode = "secure"
	}
	slog.Info("Starting SSE plugin service",
		slog.String("addr", s.listener.Addr().String()),
		slog.String("mode", mode),
		slog.String("instanceID", s.instanceID))

	s.healthCheck.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	s.healthCheck.SetServingStatus(sseproto.ConnectorServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.Serve(s.listener); err != nil {
			errChan <- fmt.Errorf("GRPC server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutting down SSE plugin service")
		s.healthCheck.Shutdown()
		s.server.GracefulStop()
		return nil
	case err := <-errChan:
		return err
	}
}

// Stop ends all calls immediately.
func (s *Service) Stop() {
	s.server.Stop()
}

func (s *Service) GetCapabilities(ctx context.Context, _ *sseproto.Empty) (*sseproto.Capabilities, error) {
	slog.Info("GetCapabilities", slog.Int("functions", len(s.capabilities.Functions)))
	return s.capabilities, nil
}

func (s *Service) ExecuteFunction(stream sseproto.ExecuteFunctionServer) error {
	ctx := stream.Context()
	hdr, err := sseproto.FunctionHeaderFromContext(ctx)
	if err != nil {
		slog.Error("ExecuteFunction without a usable function header", slog.Any("error", err))
		return status.Error(codes.InvalidArgument, err.Error())
	}
	id := FunctionID(hdr.FunctionID)

	ctx = logctx.With(ctx,
		slog.String("call_id", idgen.NextCallID()),
		slog.String("function", id.String()),
	)
	if common, err := sseproto.CommonHeaderFromContext(ctx); err == nil {
		ctx = logctx.With(ctx, slog.String("app_id", common.AppID), slog.String("user_id", common.UserID))
	}
	logger := logctx.FromContext(ctx)
	logger.Info("ExecuteFunction", slog.Int("functionId", int(hdr.FunctionID)))

	start := time.Now()
	err = s.dispatcher.Dispatch(ctx, id, stream, stream)
	callDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
		attribute.String("function", id.String()),
		attribute.Bool("error", err != nil)))

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUnknownFunction):
		logger.Error("Function id is not served by this plugin", slog.Any("error", err))
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		logger.Error("ExecuteFunction failed", slog.Any("error", err))
		if st, ok := status.FromError(err); ok {
			return st.Err()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return status.FromContextError(ctxErr).Err()
		}
		return status.Error(codes.Internal, err.Error())
	}
}

// EvaluateScript is answered with Unimplemented for every function type:
// the plugin advertises allowScript=false.
func (s *Service) EvaluateScript(stream sseproto.EvaluateScriptServer) error {
	hdr, err := sseproto.ScriptHeaderFromContext(stream.Context())
	if err != nil {
		slog.Error("EvaluateScript without a usable script header", slog.Any("error", err))
		return status.Error(codes.InvalidArgument, err.Error())
	}
	msg := fmt.Sprintf("Function type %s is not supported in this plugin.", hdr.FunctionType)
	slog.Warn("EvaluateScript rejected", slog.String("functionType", hdr.FunctionType.String()))
	return status.Error(codes.Unimplemented, msg)
}
