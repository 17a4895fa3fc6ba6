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

package supervisor_test

import (
	"context"
	"errors"
	"io"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/screenswitch/pkg/actuator"
	"github.com/united-manufacturing-hub/screenswitch/pkg/backoff"
	"github.com/united-manufacturing-hub/screenswitch/pkg/config"
	"github.com/united-manufacturing-hub/screenswitch/pkg/decoder"
	"github.com/united-manufacturing-hub/screenswitch/pkg/metrics"
	"github.com/united-manufacturing-hub/screenswitch/pkg/session"
	"github.com/united-manufacturing-hub/screenswitch/pkg/supervisor"
)

var _ = Describe("Supervisor", func() {
	var (
		ctrl   *supervisor.Controller
		sup    *supervisor.Supervisor
		opener *fakeOpener
		clock  *fakeClock
		act    *recordingActuator
		loader config.Loader
		policy backoff.Policy
		poll   time.Duration

		ctx    context.Context
		cancel context.CancelFunc
		done   chan error
	)

	BeforeEach(func() {
		ctrl = supervisor.NewController(0, 0)
		opener = &fakeOpener{}
		clock = &fakeClock{fire: true}
		act = &recordingActuator{}
		loader = staticLoader()
		policy = backoff.NewExponential(time.Second, 60*time.Second, 10)
		poll = 20 * time.Millisecond
		ctx, cancel = context.WithCancel(context.Background())
		done = make(chan error, 1)
	})

	run := func() {
		var err error
		sup, err = ctrl.NewSupervisor(supervisor.Config{
			Loader:      loader,
			Opener:      opener,
			Decoder:     decoder.New(decoder.ModeAuto),
			Gate:        actuator.NewGate(act, nil),
			Policy:      policy,
			Metrics:     metrics.NewWithRegistry(prometheus.NewRegistry()),
			Logger:      zap.NewNop().Sugar(),
			PollTimeout: poll,
			After:       clock.After,
		})
		Expect(err).NotTo(HaveOccurred())
		go func() { done <- sup.Run(ctx) }()
	}

	AfterEach(func() {
		cancel()
		Eventually(done, 2*time.Second).Should(Receive())
	})

	Context("happy path", func() {
		It("should connect, switch the display idempotently and stop", func() {
			sess := newFakeSession()
			opener.steps = []openStep{{session: sess}}
			run()

			Expect(sup.State()).To(Equal(supervisor.StateDisconnected))
			Expect(ctrl.Start()).To(BeTrue())
			Expect(nextStatus(ctrl).Kind).To(Equal(supervisor.StatusStarted))
			Expect(sup.State()).To(Equal(supervisor.StateConnected))

			sess.push("off")
			Eventually(act.Calls).Should(Equal([]bool{false}))

			sess.push("off")
			sess.push(`{"action":"on","params":{"source":"test"}}`)
			Eventually(act.Calls).Should(Equal([]bool{false, true}))

			Expect(ctrl.Stop()).To(BeTrue())
			Expect(nextStatus(ctrl).Kind).To(Equal(supervisor.StatusStopped))
			Expect(sess.closeCount()).To(Equal(1))

			snap := sup.Snapshot()
			Expect(snap.State).To(Equal(supervisor.StateDisconnected))
			Expect(snap.Stats.Attempts).To(Equal(uint64(1)))
			Expect(snap.Stats.Successes).To(Equal(uint64(1)))
			Expect(snap.Stats.Failures).To(BeZero())
			Expect(snap.Stats.ConnectedSince.IsZero()).To(BeTrue())
		})

		It("should ignore undecodable payloads and keep polling", func() {
			sess := newFakeSession()
			opener.steps = []openStep{{session: sess}}
			run()

			ctrl.Start()
			Expect(nextStatus(ctrl).Kind).To(Equal(supervisor.StatusStarted))

			sess.push("\xff\xfe garbage")
			sess.push(`{"action":"dance"}`)
			sess.push("off")
			Eventually(act.Calls).Should(Equal([]bool{false}))
			Expect(sup.State()).To(Equal(supervisor.StateConnected))
		})
	})

	Context("when the broker is unreachable", func() {
		BeforeEach(func() {
			opener.fallback = openStep{err: backoff.NewTransientError(&session.ConnectError{Stage: session.StageConnect, Broker: "tcp://127.0.0.1:1883", Err: errors.New("connection refused")})}
		})

		It("should back off exponentially and give up after 10 failures", func() {
			run()
			ctrl.Start()

			ev := nextStatus(ctrl)
			Expect(ev.Kind).To(Equal(supervisor.StatusError))
			Expect(ev.Message).To(ContainSubstring("10 consecutive failures"))
			Expect(nextStatus(ctrl).Kind).To(Equal(supervisor.StatusStopped))

			Expect(clock.Delays()).To(Equal([]time.Duration{
				1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
				32 * time.Second, 60 * time.Second, 60 * time.Second, 60 * time.Second,
			}))
			Expect(opener.Calls()).To(Equal(10))
			Consistently(opener.Calls, 100*time.Millisecond).Should(Equal(10))

			snap := sup.Snapshot()
			Expect(snap.State).To(Equal(supervisor.StateDisconnected))
			Expect(snap.Stats.Attempts).To(Equal(uint64(10)))
			Expect(snap.Stats.Failures).To(Equal(uint64(10)))
		})

		It("should start a fresh retry budget on the next Start", func() {
			run()
			ctrl.Start()
			Expect(nextStatus(ctrl).Kind).To(Equal(supervisor.StatusError))
			Expect(nextStatus(ctrl).Kind).To(Equal(supervisor.StatusStopped))

			ctrl.Start()
			Expect(nextStatus(ctrl).Kind).To(Equal(supervisor.StatusError))
			Expect(nextStatus(ctrl).Kind).To(Equal(supervisor.StatusStopped))
			Expect(opener.Calls()).To(Equal(20))
		})

		It("should use the fixed policy when configured", func() {
			policy = backoff.NewFixed(5*time.Second, 5)
			run()
			ctrl.Start()

			Expect(nextStatus(ctrl).Kind).To(Equal(supervisor.StatusError))
			Expect(nextStatus(ctrl).Kind).To(Equal(supervisor.StatusStopped))
			Expect(clock.Delays()).To(Equal([]time.Duration{5 * time.Second, 5 * time.Second, 5 * time.Second, 5 * time.Second}))
			Expect(opener.Calls()).To(Equal(5))
		})

		It("should stop promptly during the backoff sleep", func() {
			clock.fire = false
			run()
			ctrl.Start()
			Eventually(clock.Delays).Should(HaveLen(1))
			Expect(sup.State()).To(Equal(supervisor.StateReconnecting))

			ctrl.Stop()
			Expect(nextStatus(ctrl).Kind).To(Equal(supervisor.StatusStopped))
			Expect(sup.State()).To(Equal(supervisor.StateDisconnected))
			Expect(opener.Calls()).To(Equal(1))
		})
	})

	Context("when the broker rejects the connection permanently", func() {
		BeforeEach(func() {
			opener.fallback = openStep{err: backoff.NewPermanentError(&session.ConnectError{
				Stage:  session.StageTLS,
				Broker: "ssl://127.0.0.1:8883",
				Err:    errors.New("open /etc/screenswitch/ca.crt: no such file or directory"),
			})}
		})

		It("should stop after the first attempt without backing off", func() {
			run()
			ctrl.Start()

			ev := nextStatus(ctrl)
			Expect(ev.Kind).To(Equal(supervisor.StatusError))
			Expect(ev.Message).To(ContainSubstring("connection rejected"))
			Expect(ev.Message).To(ContainSubstring("ca.crt"))
			Expect(nextStatus(ctrl).Kind).To(Equal(supervisor.StatusStopped))

			Expect(clock.Delays()).To(BeEmpty())
			Consistently(opener.Calls, 100*time.Millisecond).Should(Equal(1))

			snap := sup.Snapshot()
			Expect(snap.State).To(Equal(supervisor.StateDisconnected))
			Expect(snap.Stats.Failures).To(Equal(uint64(1)))
			Expect(snap.ConsecutiveFailures).To(BeZero())
		})

		It("should try again on the next Start", func() {
			run()
			ctrl.Start()
			Expect(nextStatus(ctrl).Kind).To(Equal(supervisor.StatusError))
			Expect(nextStatus(ctrl).Kind).To(Equal(supervisor.StatusStopped))

			ctrl.Start()
			Expect(nextStatus(ctrl).Kind).To(Equal(supervisor.StatusError))
			Expect(nextStatus(ctrl).Kind).To(Equal(supervisor.StatusStopped))
			Expect(opener.Calls()).To(Equal(2))
		})
	})

	Context("when the configuration cannot be loaded", func() {
		It("should report an error and stop without connecting", func() {
			loader = config.LoaderFunc(func(context.Context) (config.BrokerConfig, error) {
				return config.BrokerConfig{}, backoff.NewPermanentError(config.ErrConfigNotFound)
			})
			run()
			ctrl.Start()

			ev := nextStatus(ctrl)
			Expect(ev.Kind).To(Equal(supervisor.StatusError))
			Expect(ev.Message).To(ContainSubstring("configuration error"))
			Expect(nextStatus(ctrl).Kind).To(Equal(supervisor.StatusStopped))
			Expect(opener.Calls()).To(BeZero())
			Expect(sup.State()).To(Equal(supervisor.StateDisconnected))
		})
	})

	Context("when an established connection is lost", func() {
		DescribeTable("should reconnect after one backoff step",
			func(kind session.PollKind, cause error) {
				first, second := newFakeSession(), newFakeSession()
				opener.steps = []openStep{{session: first}, {session: second}}
				run()

				ctrl.Start()
				Expect(nextStatus(ctrl).Kind).To(Equal(supervisor.StatusStarted))

				first.lose(kind, cause)
				Expect(nextStatus(ctrl).Kind).To(Equal(supervisor.StatusStarted))
				Expect(first.closeCount()).To(Equal(1))
				Expect(clock.Delays()).To(Equal([]time.Duration{time.Second}))

				snap := sup.Snapshot()
				Expect(snap.State).To(Equal(supervisor.StateConnected))
				Expect(snap.Stats.Successes).To(Equal(uint64(2)))
				Expect(snap.Stats.Failures).To(Equal(uint64(1)))
				Expect(snap.ConsecutiveFailures).To(BeZero())

				second.push("off")
				Eventually(act.Calls).Should(Equal([]bool{false}))
			},
			Entry("broker closed the connection", session.KindDisconnected, io.EOF),
			Entry("transport error", session.KindTransportError, errors.New("pingresp not received")),
		)
	})

	Context("host commands", func() {
		It("should stop within one poll timeout while connected", func() {
			poll = 500 * time.Millisecond
			run()
			ctrl.Start()
			Expect(nextStatus(ctrl).Kind).To(Equal(supervisor.StatusStarted))

			stopAt := time.Now()
			ctrl.Stop()
			var ev supervisor.StatusEvent
			Eventually(ctrl.Status(), 700*time.Millisecond).Should(Receive(&ev))
			Expect(ev.Kind).To(Equal(supervisor.StatusStopped))
			Expect(time.Since(stopAt)).To(BeNumerically("<", 700*time.Millisecond))
		})

		It("should cancel an in-flight open and close the late session", func() {
			late := newFakeSession()
			opener.steps = []openStep{{session: late, block: true}}
			run()

			ctrl.Start()
			Eventually(opener.Calls).Should(Equal(1))
			Expect(sup.State()).To(Equal(supervisor.StateConnecting))

			ctrl.Stop()
			Expect(nextStatus(ctrl).Kind).To(Equal(supervisor.StatusStopped))
			Eventually(opener.cancelled.Load).Should(BeTrue())
			Eventually(late.closeCount).Should(Equal(1))
			Expect(sup.State()).To(Equal(supervisor.StateDisconnected))
		})

		It("should ignore Start while already running", func() {
			run()
			ctrl.Start()
			Expect(nextStatus(ctrl).Kind).To(Equal(supervisor.StatusStarted))

			ctrl.Start()
			Consistently(opener.Calls, 200*time.Millisecond).Should(Equal(1))
			Consistently(ctrl.Status(), 100*time.Millisecond).ShouldNot(Receive())
			Expect(sup.State()).To(Equal(supervisor.StateConnected))
		})

		It("should ignore Stop while disconnected", func() {
			run()
			ctrl.Stop()
			Consistently(ctrl.Status(), 200*time.Millisecond).ShouldNot(Receive())
			Expect(sup.State()).To(Equal(supervisor.StateDisconnected))
		})

		It("should close the session and return nil when the command queue closes", func() {
			sess := newFakeSession()
			opener.steps = []openStep{{session: sess}}
			run()
			ctrl.Start()
			Expect(nextStatus(ctrl).Kind).To(Equal(supervisor.StatusStarted))

			ctrl.Close()
			var err error
			Eventually(done, 2*time.Second).Should(Receive(&err))
			Expect(err).NotTo(HaveOccurred())
			Expect(sess.closeCount()).To(Equal(1))
			Expect(nextStatus(ctrl).Kind).To(Equal(supervisor.StatusStopped))
			Expect(ctrl.Start()).To(BeFalse())

			// AfterEach expects a result on done.
			done <- nil
		})

		It("should return the context error when cancelled", func() {
			run()
			cancel()
			var err error
			Eventually(done, 2*time.Second).Should(Receive(&err))
			Expect(err).To(MatchError(context.Canceled))
			done <- nil
		})
	})
})

var _ = Describe("Supervisor status queue", func() {
	It("should drop status events instead of blocking when the queue is full", func() {
		commands := make(chan supervisor.HostCommand, 4)
		status := make(chan supervisor.StatusEvent, 1)
		opener := &fakeOpener{}

		sup, err := supervisor.New(supervisor.Config{
			Loader:      staticLoader(),
			Opener:      opener,
			Gate:        actuator.NewGate(&recordingActuator{}, nil),
			Policy:      backoff.NewExponential(0, 0, 0),
			PollTimeout: 10 * time.Millisecond,
		}, commands, status)
		Expect(err).NotTo(HaveOccurred())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() { _ = sup.Run(ctx) }()

		commands <- supervisor.CommandStart
		Eventually(sup.State).Should(Equal(supervisor.StateConnected))
		commands <- supervisor.CommandStop
		Eventually(sup.State).Should(Equal(supervisor.StateDisconnected))
		commands <- supervisor.CommandStart
		Eventually(opener.Calls).Should(Equal(2))

		Expect(status).To(HaveLen(1))
		Expect((<-status).Kind).To(Equal(supervisor.StatusStarted))
	})
})

var _ = Describe("Snapshot", func() {
	It("should add the running connection to the accumulated uptime", func() {
		since := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
		snap := supervisor.Snapshot{Stats: supervisor.ConnectionStats{TotalUptime: time.Minute, ConnectedSince: since}}

		Expect(snap.Uptime(since.Add(30 * time.Second))).To(Equal(90 * time.Second))
	})

	It("should report only the accumulated uptime while disconnected", func() {
		snap := supervisor.Snapshot{Stats: supervisor.ConnectionStats{TotalUptime: time.Minute}}

		Expect(snap.Uptime(time.Now())).To(Equal(time.Minute))
	})
})

var _ = Describe("New", func() {
	It("should reject missing collaborators", func() {
		commands := make(chan supervisor.HostCommand)
		_, err := supervisor.New(supervisor.Config{}, commands, nil)
		Expect(err).To(MatchError(ContainSubstring("config loader is required")))

		_, err = supervisor.New(supervisor.Config{
			Loader: staticLoader(),
			Opener: &fakeOpener{},
			Gate:   actuator.NewGate(&recordingActuator{}, nil),
			Policy: backoff.NewFixed(0, 0),
		}, nil, nil)
		Expect(err).To(MatchError(ContainSubstring("command channel is required")))
	})
})
