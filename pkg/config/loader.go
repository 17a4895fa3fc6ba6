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
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/united-manufacturing-hub/screenswitch/pkg/backoff"
)

// CandidateFileNames are searched, in order, by FindConfigFile.
var CandidateFileNames = []string{"config.yaml", "config.yml", "config.toml"}

// Loader produces a fresh BrokerConfig for every connection attempt.
type Loader interface {
	Load(ctx context.Context) (BrokerConfig, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context) (BrokerConfig, error)

func (f LoaderFunc) Load(ctx context.Context) (BrokerConfig, error) { return f(ctx) }

// fileConfig is the on-disk shape. The keys of the first four fields match the
// historic config.toml of the agent.
type fileConfig struct {
	BrokerIP              string    `yaml:"broker_ip" toml:"broker_ip"`
	BrokerPort            int       `yaml:"broker_port" toml:"broker_port"`
	Username              string    `yaml:"username" toml:"username"`
	Password              string    `yaml:"password" toml:"password"`
	Topic                 string    `yaml:"topic" toml:"topic"`
	ClientID              string    `yaml:"client_id" toml:"client_id"`
	ProbeTopic            *string   `yaml:"probe_topic" toml:"probe_topic"`
	KeepAliveSeconds      int       `yaml:"keep_alive_seconds" toml:"keep_alive_seconds"`
	ConnectTimeoutSeconds int       `yaml:"connect_timeout_seconds" toml:"connect_timeout_seconds"`
	TLS                   TLSConfig `yaml:"tls" toml:"tls"`
}

// FileLoader reads the broker config from a YAML or TOML file and applies
// environment overrides on every Load.
type FileLoader struct {
	path           string
	clientIDSuffix string
	logger         *zap.SugaredLogger
}

// NewFileLoader returns a loader for path. The client ID suffix is fixed for
// the lifetime of the loader.
func NewFileLoader(path string, logger *zap.SugaredLogger) *FileLoader {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &FileLoader{path: path, clientIDSuffix: NewClientIDSuffix(), logger: logger}
}

// Path returns the file the loader reads.
func (l *FileLoader) Path() string { return l.path }

// Load reads the file, applies defaults and environment overrides and validates
// the result. Errors wrap ErrConfig and are categorized as permanent.
func (l *FileLoader) Load(ctx context.Context) (BrokerConfig, error) {
	if err := ctx.Err(); err != nil {
		return BrokerConfig{}, err
	}

	fc, err := readFile(l.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if !brokerFromEnv() {
			return BrokerConfig{}, backoff.NewPermanentError(fmt.Errorf("%w: %s", ErrConfigNotFound, l.path))
		}
		l.logger.Debugf("Config file %s not found, using environment only", l.path)
	case err != nil:
		return BrokerConfig{}, backoff.NewPermanentError(err)
	}

	cfg, err := fc.toBrokerConfig()
	if err != nil {
		return BrokerConfig{}, backoff.NewPermanentError(err)
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return BrokerConfig{}, backoff.NewPermanentError(err)
	}

	cfg = cfg.withDefaults(l.clientIDSuffix)
	if err := cfg.Validate(); err != nil {
		return BrokerConfig{}, backoff.NewPermanentError(err)
	}

	l.logger.Debugf("Loaded broker config for %s (topic %s)", cfg.BrokerURL(), cfg.Topic)
	return cfg, nil
}

func readFile(path string) (fileConfig, error) {
	var fc fileConfig

	data, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &fc)
	default:
		err = yaml.Unmarshal(data, &fc)
	}
	if err != nil {
		return fc, fmt.Errorf("%w: failed to parse %s: %v", ErrInvalidConfig, path, err)
	}
	return fc, nil
}

func (fc fileConfig) toBrokerConfig() (BrokerConfig, error) {
	if fc.BrokerPort < 0 || fc.BrokerPort > 65535 {
		return BrokerConfig{}, fmt.Errorf("%w: broker_port %d out of range", ErrInvalidConfig, fc.BrokerPort)
	}

	cfg := BrokerConfig{
		BrokerAddress:  strings.TrimSpace(fc.BrokerIP),
		BrokerPort:     uint16(fc.BrokerPort), //nolint:gosec // range checked above
		Username:       fc.Username,
		Password:       fc.Password,
		Topic:          fc.Topic,
		ClientID:       fc.ClientID,
		ProbeTopic:     DefaultProbeTopic,
		KeepAlive:      time.Duration(fc.KeepAliveSeconds) * time.Second,
		ConnectTimeout: time.Duration(fc.ConnectTimeoutSeconds) * time.Second,
		TLS:            fc.TLS,
	}
	if fc.ProbeTopic != nil {
		cfg.ProbeTopic = *fc.ProbeTopic
	}
	return cfg, nil
}

// FindConfigFile returns the first candidate file that exists in dir, or the
// path of the first candidate if none does.
func FindConfigFile(dir string) string {
	for _, name := range CandidateFileNames {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return filepath.Join(dir, CandidateFileNames[0])
}

// DefaultConfigDir is the directory of the running executable.
func DefaultConfigDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}
