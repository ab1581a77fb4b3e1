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
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"google.golang.org/grpc/credentials"
)

// File names expected in the certificate directory.
const (
	ServerKeyFile  = "sse_server_key.pem"
	ServerCertFile = "sse_server_cert.pem"
	RootCertFile   = "root_cert.pem"
)

// loadTLSCredentials builds mutual TLS server credentials from pemDir. The
// engine must present a client certificate signed by the root certificate.
func loadTLSCredentials(pemDir string) (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(
		filepath.Join(pemDir, ServerCertFile),
		filepath.Join(pemDir, ServerKeyFile),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load server key pair from %s: %w", pemDir, err)
	}

	rootPEM, err := os.ReadFile(filepath.Join(pemDir, RootCertFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read root certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(rootPEM) {
		return nil, errors.New("root certificate contains no usable PEM certificates")
	}

	return credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}), nil
}
