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
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/screenswitch/pkg/backoff"
	"github.com/united-manufacturing-hub/screenswitch/pkg/config"
)

const (
	// ProbePayload is published to the probe topic after subscribing.
	ProbePayload = "ping"

	// QoS is at-most-once for every subscription and publish.
	QoS byte = 0

	defaultBufferSize   = 64
	disconnectQuiesceMs = 250
)

var (
	// ErrTimeout means a paho token did not complete in time.
	ErrTimeout = errors.New("timed out waiting for broker")
	// ErrClosed is reported by Poll after Close.
	ErrClosed = errors.New("session closed")
)

// ClientFactory creates the paho client from the prepared options.
type ClientFactory func(opts *MQTT.ClientOptions) MQTT.Client

// MQTTOpener opens paho sessions.
type MQTTOpener struct {
	logger     *zap.SugaredLogger
	newClient  ClientFactory
	bufferSize int
}

// MQTTOption configures an MQTTOpener.
type MQTTOption func(*MQTTOpener)

// WithClientFactory replaces MQTT.NewClient, e.g. with a fake in tests.
func WithClientFactory(f ClientFactory) MQTTOption {
	return func(o *MQTTOpener) { o.newClient = f }
}

// WithBufferSize sets how many inbound messages are queued between paho and Poll.
func WithBufferSize(n int) MQTTOption {
	return func(o *MQTTOpener) {
		if n > 0 {
			o.bufferSize = n
		}
	}
}

// NewMQTTOpener returns an Opener backed by paho.mqtt.golang.
func NewMQTTOpener(logger *zap.SugaredLogger, opts ...MQTTOption) *MQTTOpener {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	o := &MQTTOpener{
		logger:     logger,
		newClient:  MQTT.NewClient,
		bufferSize: defaultBufferSize,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *MQTTOpener) clientOptions(cfg config.BrokerConfig) (*MQTT.ClientOptions, error) {
	opts := MQTT.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL())
	opts.SetClientID(cfg.ClientID)
	if cfg.HasCredentials() {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if cfg.TLS.Enabled {
		tlsConfig, err := NewTLSConfig(cfg.TLS)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetCleanSession(true)
	opts.SetOrderMatters(true)
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	return opts, nil
}

// Open connects, subscribes to cfg.Topic and optionally publishes a probe.
// Any failure closes the client and returns a categorized *ConnectError.
func (o *MQTTOpener) Open(ctx context.Context, cfg config.BrokerConfig) (Session, error) {
	broker := cfg.BrokerURL()

	opts, err := o.clientOptions(cfg)
	if err != nil {
		return nil, connectFailure(StageTLS, broker, err)
	}

	s := &mqttSession{
		broker: broker,
		msgs:   make(chan PollResult, o.bufferSize),
		lost:   make(chan error, 1),
		done:   make(chan struct{}),
		logger: o.logger,
	}
	opts.SetOnConnectHandler(func(MQTT.Client) {
		o.logger.Infof("Connected to MQTT broker %s", broker)
	})
	opts.SetConnectionLostHandler(s.onConnectionLost)

	client := o.newClient(opts)
	s.client = client

	o.logger.Infof("Connecting to %s as %s", broker, cfg.ClientID)
	connectToken := client.Connect()
	if err := waitToken(ctx, connectToken, cfg.ConnectTimeout); err != nil {
		// A cancelled attempt may still complete inside paho; disconnect once it settles.
		select {
		case <-connectToken.Done():
		default:
			go func() {
				<-connectToken.Done()
				client.Disconnect(0)
			}()
		}
		return nil, connectFailure(StageConnect, broker, err)
	}

	if err := waitToken(ctx, client.Subscribe(cfg.Topic, QoS, s.onMessage), cfg.ConnectTimeout); err != nil {
		client.Disconnect(0)
		return nil, connectFailure(StageSubscribe, broker, err)
	}
	o.logger.Infof("Subscribed to %s", cfg.Topic)

	if cfg.ProbeTopic != "" {
		if err := waitToken(ctx, client.Publish(cfg.ProbeTopic, QoS, false, ProbePayload), cfg.ConnectTimeout); err != nil {
			client.Disconnect(0)
			return nil, connectFailure(StagePublish, broker, err)
		}
		o.logger.Debugf("Probe published to %s", cfg.ProbeTopic)
	}

	return s, nil
}

// Publish connects, publishes payload to cfg.Topic and disconnects.
func (o *MQTTOpener) Publish(ctx context.Context, cfg config.BrokerConfig, payload []byte) error {
	broker := cfg.BrokerURL()

	opts, err := o.clientOptions(cfg)
	if err != nil {
		return connectFailure(StageTLS, broker, err)
	}

	client := o.newClient(opts)
	if err := waitToken(ctx, client.Connect(), cfg.ConnectTimeout); err != nil {
		return connectFailure(StageConnect, broker, err)
	}
	defer client.Disconnect(disconnectQuiesceMs)

	if err := waitToken(ctx, client.Publish(cfg.Topic, QoS, false, payload), cfg.ConnectTimeout); err != nil {
		return connectFailure(StagePublish, broker, err)
	}
	o.logger.Infof("Published %q to %s", payload, cfg.Topic)
	return nil
}

// connectFailure categorizes a failed stage. Bad TLS material is permanent,
// everything else is worth another attempt.
func connectFailure(stage Stage, broker string, err error) error {
	connErr := &ConnectError{Stage: stage, Broker: broker, Err: err}
	if stage == StageTLS {
		return backoff.NewPermanentError(connErr)
	}
	return backoff.NewTransientError(connErr)
}

// waitToken waits for t, the context or the timeout, whichever comes first.
func waitToken(ctx context.Context, t MQTT.Token, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = config.DefaultConnectTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-t.Done():
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTimeout
	}
}

type mqttSession struct {
	client MQTT.Client
	broker string
	msgs   chan PollResult
	lost   chan error
	done   chan struct{}
	logger *zap.SugaredLogger

	// terminal is only touched by the goroutine calling Poll.
	terminal *PollResult

	closeOnce sync.Once
}

func (s *mqttSession) onMessage(_ MQTT.Client, msg MQTT.Message) {
	payload := append([]byte(nil), msg.Payload()...)
	select {
	case s.msgs <- PollResult{Kind: KindMessage, Topic: msg.Topic(), Payload: payload}:
	case <-s.done:
	}
}

func (s *mqttSession) onConnectionLost(_ MQTT.Client, err error) {
	if err == nil {
		err = io.EOF
	}
	select {
	case s.lost <- err:
	default:
	}
}

// Poll delivers queued messages before reporting a lost connection.
func (s *mqttSession) Poll(ctx context.Context, timeout time.Duration) PollResult {
	select {
	case r := <-s.msgs:
		return r
	default:
	}
	if s.terminal != nil {
		return *s.terminal
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-s.msgs:
		return r
	case err := <-s.lost:
		r := classifyLoss(err)
		s.terminal = &r
		s.logger.Warnf("Connection to %s lost: %v", s.broker, err)
		select {
		case m := <-s.msgs:
			return m
		default:
		}
		return r
	case <-s.done:
		r := PollResult{Kind: KindDisconnected, Err: ErrClosed}
		s.terminal = &r
		return r
	case <-timer.C:
		return PollResult{Kind: KindIdle}
	case <-ctx.Done():
		return PollResult{Kind: KindIdle}
	}
}

func (s *mqttSession) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.client.Disconnect(disconnectQuiesceMs)
	})
}

func classifyLoss(err error) PollResult {
	if errors.Is(err, io.EOF) {
		return PollResult{Kind: KindDisconnected, Err: backoff.NewTransientError(err)}
	}
	return PollResult{Kind: KindTransportError, Err: backoff.NewTransientError(fmt.Errorf("transport error: %w", err))}
}
