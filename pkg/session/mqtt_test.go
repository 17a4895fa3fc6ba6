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

package session_test

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/screenswitch/pkg/backoff"
	"github.com/united-manufacturing-hub/screenswitch/pkg/config"
	"github.com/united-manufacturing-hub/screenswitch/pkg/session"
)

var _ = Describe("MQTTOpener", func() {
	var (
		fake   *fakeClient
		opener *session.MQTTOpener
		cfg    config.BrokerConfig
		ctx    context.Context
		cancel context.CancelFunc
	)

	BeforeEach(func() {
		fake = &fakeClient{}
		opener = session.NewMQTTOpener(zap.NewNop().Sugar(), session.WithClientFactory(func(opts *MQTT.ClientOptions) MQTT.Client {
			fake.opts = opts
			return fake
		}))
		cfg = config.BrokerConfig{
			BrokerAddress:  "127.0.0.1",
			BrokerPort:     1883,
			Username:       "screen",
			Password:       "secret",
			Topic:          "pi5/display",
			ClientID:       "auto_screen_switch-test",
			ProbeTopic:     "test/connection",
			KeepAlive:      30 * time.Second,
			ConnectTimeout: time.Second,
		}
		ctx, cancel = context.WithCancel(context.Background())
	})

	AfterEach(func() {
		cancel()
	})

	Context("when opening a session", func() {
		It("should connect without auto-reconnect and subscribe with QoS 0", func() {
			s, err := opener.Open(ctx, cfg)
			Expect(err).NotTo(HaveOccurred())
			defer s.Close()

			Expect(fake.opts.Servers).To(HaveLen(1))
			Expect(fake.opts.Servers[0].String()).To(Equal("tcp://127.0.0.1:1883"))
			Expect(fake.opts.ClientID).To(Equal("auto_screen_switch-test"))
			Expect(fake.opts.Username).To(Equal("screen"))
			Expect(fake.opts.AutoReconnect).To(BeFalse())
			Expect(fake.opts.ConnectRetry).To(BeFalse())
			Expect(fake.opts.KeepAlive).To(Equal(int64(30)))

			Expect(fake.subscribedTopic).To(Equal("pi5/display"))
			Expect(fake.subscribedQoS).To(Equal(session.QoS))
		})

		It("should publish the probe after subscribing", func() {
			s, err := opener.Open(ctx, cfg)
			Expect(err).NotTo(HaveOccurred())
			defer s.Close()

			Expect(fake.publishedMessages()).To(ConsistOf(published{topic: "test/connection", payload: session.ProbePayload}))
		})

		It("should skip the probe when no probe topic is configured", func() {
			cfg.ProbeTopic = ""
			s, err := opener.Open(ctx, cfg)
			Expect(err).NotTo(HaveOccurred())
			defer s.Close()

			Expect(fake.publishedMessages()).To(BeEmpty())
		})


		It("should omit credentials when none are configured", func() {
			cfg.Username, cfg.Password = "", ""
			s, err := opener.Open(ctx, cfg)
			Expect(err).NotTo(HaveOccurred())
			defer s.Close()

			Expect(fake.opts.Username).To(BeEmpty())
		})
	})

	Context("when opening fails", func() {
		It("should return a ConnectError for a refused connection", func() {
			fake.connectErr = errors.New("connection refused")

			s, err := opener.Open(ctx, cfg)
			Expect(s).To(BeNil())

			var connErr *session.ConnectError
			Expect(errors.As(err, &connErr)).To(BeTrue())
			Expect(connErr.Stage).To(Equal(session.StageConnect))
			Expect(connErr.Broker).To(Equal("tcp://127.0.0.1:1883"))
			Expect(backoff.CategoryOf(err)).To(Equal(backoff.CategoryTransient))
		})

		It("should disconnect and return a ConnectError when subscribing fails", func() {
			fake.subscribeErr = errors.New("subscription rejected")

			_, err := opener.Open(ctx, cfg)

			var connErr *session.ConnectError
			Expect(errors.As(err, &connErr)).To(BeTrue())
			Expect(connErr.Stage).To(Equal(session.StageSubscribe))
			Expect(fake.disconnectCount()).To(Equal(1))
		})

		It("should count a rejected connection-test publish as a failed attempt", func() {
			fake.publishErr = errors.New("not authorized")

			s, err := opener.Open(ctx, cfg)
			Expect(s).To(BeNil())

			var connErr *session.ConnectError
			Expect(errors.As(err, &connErr)).To(BeTrue())
			Expect(connErr.Stage).To(Equal(session.StagePublish))
			Expect(backoff.CategoryOf(err)).To(Equal(backoff.CategoryTransient))
			Expect(fake.disconnectCount()).To(Equal(1))
		})

		It("should give up when the connect token never completes", func() {
			fake.connectBlock = true
			cfg.ConnectTimeout = 50 * time.Millisecond

			_, err := opener.Open(ctx, cfg)
			Expect(errors.Is(err, session.ErrTimeout)).To(BeTrue())
		})

		It("should abort promptly when the context is cancelled", func() {
			fake.connectBlock = true
			cfg.ConnectTimeout = time.Minute

			go func() {
				time.Sleep(20 * time.Millisecond)
				cancel()
			}()

			start := time.Now()
			_, err := opener.Open(ctx, cfg)
			Expect(errors.Is(err, context.Canceled)).To(BeTrue())
			Expect(time.Since(start)).To(BeNumerically("<", time.Second))
		})

		It("should report unreadable TLS material as a tls ConnectError", func() {
			cfg.TLS = config.TLSConfig{Enabled: true, CAFile: filepath.Join(GinkgoT().TempDir(), "missing.crt")}

			_, err := opener.Open(ctx, cfg)

			var connErr *session.ConnectError
			Expect(errors.As(err, &connErr)).To(BeTrue())
			Expect(connErr.Stage).To(Equal(session.StageTLS))
			Expect(connErr.Broker).To(HavePrefix("ssl://"))
			Expect(backoff.IsPermanentError(err)).To(BeTrue())
		})
	})

	Context("when polling an open session", func() {
		var s session.Session

		BeforeEach(func() {
			var err error
			s, err = opener.Open(ctx, cfg)
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			s.Close()
		})

		It("should return Idle when nothing arrives within the timeout", func() {
			start := time.Now()
			r := s.Poll(ctx, 30*time.Millisecond)
			Expect(r.Kind).To(Equal(session.KindIdle))
			Expect(time.Since(start)).To(BeNumerically(">=", 30*time.Millisecond))
		})

		It("should deliver messages in arrival order", func() {
			fake.deliver("pi5/display", "off")
			fake.deliver("pi5/display", `{"action":"on"}`)

			first := s.Poll(ctx, time.Second)
			Expect(first.Kind).To(Equal(session.KindMessage))
			Expect(first.Topic).To(Equal("pi5/display"))
			Expect(string(first.Payload)).To(Equal("off"))

			second := s.Poll(ctx, time.Second)
			Expect(string(second.Payload)).To(Equal(`{"action":"on"}`))
		})

		It("should report a broker-closed connection as Disconnected", func() {
			fake.loseConnection(io.EOF)

			r := s.Poll(ctx, time.Second)
			Expect(r.Kind).To(Equal(session.KindDisconnected))
			Expect(s.Poll(ctx, time.Millisecond).Kind).To(Equal(session.KindDisconnected))
		})

		It("should report other losses as TransportError", func() {
			fake.loseConnection(errors.New("pingresp not received"))

			r := s.Poll(ctx, time.Second)
			Expect(r.Kind).To(Equal(session.KindTransportError))
			Expect(r.Err).To(MatchError(ContainSubstring("pingresp not received")))
			Expect(backoff.CategoryOf(r.Err)).To(Equal(backoff.CategoryTransient))
			Expect(backoff.IsPermanentError(r.Err)).To(BeFalse())
		})

		It("should drain queued messages before reporting the loss", func() {
			fake.deliver("pi5/display", "on")
			fake.loseConnection(io.EOF)

			Expect(s.Poll(ctx, time.Second).Kind).To(Equal(session.KindMessage))
			Expect(s.Poll(ctx, time.Second).Kind).To(Equal(session.KindDisconnected))
		})

		It("should return Idle when the context is cancelled", func() {
			cancel()
			Expect(s.Poll(ctx, time.Minute).Kind).To(Equal(session.KindIdle))
		})

		It("should disconnect exactly once when closed repeatedly", func() {
			s.Close()
			s.Close()
			Expect(fake.disconnectCount()).To(Equal(1))
			Expect(s.Poll(context.Background(), time.Second).Kind).To(Equal(session.KindDisconnected))
		})
	})

	Context("when publishing a one-off command", func() {
		It("should publish to the command topic and disconnect", func() {
			Expect(opener.Publish(ctx, cfg, []byte("off"))).To(Succeed())

			msgs := fake.publishedMessages()
			Expect(msgs).To(HaveLen(1))
			Expect(msgs[0].topic).To(Equal("pi5/display"))
			Expect(msgs[0].payload).To(Equal([]byte("off")))
			Expect(fake.disconnectCount()).To(Equal(1))
		})

		It("should wrap publish failures", func() {
			fake.publishErr = errors.New("quota exceeded")

			err := opener.Publish(ctx, cfg, []byte("on"))
			var connErr *session.ConnectError
			Expect(errors.As(err, &connErr)).To(BeTrue())
			Expect(connErr.Stage).To(Equal(session.StagePublish))
		})
	})
})

var _ = Describe("NewTLSConfig", func() {
	It("should use the system roots without a CA file", func() {
		c, err := session.NewTLSConfig(config.TLSConfig{Enabled: true, InsecureSkipVerify: true})
		Expect(err).NotTo(HaveOccurred())
		Expect(c.RootCAs).To(BeNil())
		Expect(c.InsecureSkipVerify).To(BeTrue())
	})

	It("should reject a CA file without certificates", func() {
		dir := GinkgoT().TempDir()
		p := filepath.Join(dir, "ca.crt")
		Expect(writeFile(p, "not a pem")).To(Succeed())

		_, err := session.NewTLSConfig(config.TLSConfig{Enabled: true, CAFile: p})
		Expect(err).To(MatchError(ContainSubstring("failed to parse root certificate")))
	})
})
