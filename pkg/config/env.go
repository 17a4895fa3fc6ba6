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
	"fmt"

	"github.com/united-manufacturing-hub/umh-utils/env"
)

// Environment variables that override the config file. Only non-empty values override.
const (
	EnvBrokerIP     = "BROKER_IP"
	EnvBrokerPort   = "BROKER_PORT"
	EnvMQTTUsername = "MQTT_USERNAME"
	EnvMQTTPassword = "MQTT_PASSWORD"
	EnvMQTTTopic    = "MQTT_TOPIC"
	EnvMQTTClientID = "MQTT_CLIENT_ID"
)

func brokerFromEnv() bool {
	ip, _ := env.GetAsString(EnvBrokerIP, false, "") //nolint:errcheck
	return ip != ""
}

// applyEnvOverrides copies every set override into cfg.
//
// Order of precedence (highest to lowest):
// 1. Environment variables
// 2. Config file values
// 3. Defaults (applied afterwards by withDefaults)
func applyEnvOverrides(cfg *BrokerConfig) error {
	strOverrides := []struct {
		key    string
		target *string
	}{
		{EnvBrokerIP, &cfg.BrokerAddress},
		{EnvMQTTUsername, &cfg.Username},
		{EnvMQTTPassword, &cfg.Password},
		{EnvMQTTTopic, &cfg.Topic},
		{EnvMQTTClientID, &cfg.ClientID},
	}
	for _, o := range strOverrides {
		v, err := env.GetAsString(o.key, false, "")
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, o.key, err)
		}
		if v != "" {
			*o.target = v
		}
	}

	port, err := env.GetAsInt(EnvBrokerPort, false, 0)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, EnvBrokerPort, err)
	}
	if port < 0 || port > 65535 {
		return fmt.Errorf("%w: %s=%d out of range", ErrInvalidConfig, EnvBrokerPort, port)
	}
	if port > 0 {
		cfg.BrokerPort = uint16(port) //nolint:gosec // range checked above
	}
	return nil
}
