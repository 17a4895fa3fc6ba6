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

package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultTopic          = "pi5/display"
	DefaultProbeTopic     = "test/connection"
	DefaultClientIDPrefix = "auto_screen_switch"
	DefaultKeepAlive      = 30 * time.Second
	DefaultConnectTimeout = 10 * time.Second
)

var (
	// ErrConfig is the root of every configuration error.
	ErrConfig = errors.New("config error")
	// ErrConfigNotFound means no config file exists and the environment does not name a broker.
	ErrConfigNotFound = fmt.Errorf("%w: config file not found", ErrConfig)
	// ErrInvalidConfig means the loaded values violate a BrokerConfig invariant.
	ErrInvalidConfig = fmt.Errorf("%w: invalid config", ErrConfig)
)

// TLSConfig enables ssl:// broker connections.
type TLSConfig struct {
	Enabled            bool   `yaml:"enabled" toml:"enabled"`
	CAFile             string `yaml:"ca_file" toml:"ca_file"`
	CertFile           string `yaml:"cert_file" toml:"cert_file"`
	KeyFile            string `yaml:"key_file" toml:"key_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify" toml:"insecure_skip_verify"`
}

// BrokerConfig holds everything one connection attempt needs.
// It is reloaded before every attempt.
type BrokerConfig struct {
	BrokerAddress  string
	BrokerPort     uint16
	Username       string
	Password       string
	Topic          string
	ClientID       string
	ProbeTopic     string // empty disables the probe publish
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	TLS            TLSConfig
}

// HasCredentials reports whether username and password are set.
func (c BrokerConfig) HasCredentials() bool {
	return c.Username != "" && c.Password != ""
}

// BrokerURL returns the paho broker URL, e.g. tcp://10.0.0.2:1883.
func (c BrokerConfig) BrokerURL() string {
	scheme := "tcp"
	if c.TLS.Enabled {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(c.BrokerAddress, strconv.Itoa(int(c.BrokerPort))))
}

// Validate checks the BrokerConfig invariants.
func (c BrokerConfig) Validate() error {
	var problems []string
	if strings.TrimSpace(c.BrokerAddress) == "" {
		problems = append(problems, "broker address is empty")
	}
	if c.BrokerPort == 0 {
		problems = append(problems, "broker port is 0")
	}
	if (c.Username == "") != (c.Password == "") {
		problems = append(problems, "username and password must be set together")
	}
	if strings.TrimSpace(c.Topic) == "" {
		problems = append(problems, "topic is empty")
	}
	if c.TLS.Enabled && (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		problems = append(problems, "tls cert_file and key_file must be set together")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// withDefaults fills unset optional fields.
func (c BrokerConfig) withDefaults(clientIDSuffix string) BrokerConfig {
	if c.Topic == "" {
		c.Topic = DefaultTopic
	}
	if c.ClientID == "" {
		c.ClientID = DefaultClientIDPrefix + "-" + clientIDSuffix
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = DefaultKeepAlive
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	return c
}

// NewClientIDSuffix returns a short random suffix so two agents never share a client ID.
func NewClientIDSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
