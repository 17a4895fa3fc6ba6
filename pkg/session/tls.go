// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package session

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/united-manufacturing-hub/screenswitch/pkg/config"
)

// NewTLSConfig builds the client TLS settings for an ssl:// broker.
// Without a CA file the system roots are used.
func NewTLSConfig(cfg config.TLSConfig) (*tls.Config, error) {
	// Import trusted certificates from the CA file, if one is given.
	var certpool *x509.CertPool
	if cfg.CAFile != "" {
		pemCerts, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("error reading CA certificate: %w", err)
		}
		certpool = x509.NewCertPool()
		if ok := certpool.AppendCertsFromPEM(pemCerts); !ok {
			return nil, fmt.Errorf("failed to parse root certificate %s", cfg.CAFile)
		}
	}

	/* #nosec G402 -- skipping verification is an explicit opt-in */
	tlsConfig := &tls.Config{
		RootCAs:            certpool,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}

	// Import client certificate/key pair
	if cfg.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("error reading client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}
