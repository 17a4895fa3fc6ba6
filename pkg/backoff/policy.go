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

package backoff

import (
	"fmt"
	"strings"
	"time"

	cbackoff "github.com/cenkalti/backoff"
)

const (
	DefaultFixedDelay      = 5 * time.Second
	DefaultFixedMaxRetries = 5

	DefaultInitialDelay          = 1 * time.Second
	DefaultMaxDelay              = 60 * time.Second
	DefaultExponentialMaxRetries = 10
)

// Kind selects a Policy implementation.
type Kind string

const (
	KindFixed       Kind = "fixed"
	KindExponential Kind = "exponential"
)

// ParseKind accepts "fixed" or "exponential" (case-insensitive).
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindFixed:
		return KindFixed, nil
	case KindExponential:
		return KindExponential, nil
	default:
		return "", fmt.Errorf("unknown backoff policy %q (want fixed or exponential)", s)
	}
}

// Policy decides how long to wait before the next connection attempt and when
// to stop retrying. attempt is the 1-based count of consecutive failures.
type Policy interface {
	NextDelay(attempt uint) time.Duration
	ShouldStop(attempt uint) bool
	MaxRetries() uint
	Kind() Kind
}

// Fixed waits the same delay after every failure.
type Fixed struct {
	constant *cbackoff.ConstantBackOff
	Retries  uint
}

// NewFixed returns a Fixed policy. Zero values fall back to the defaults.
func NewFixed(delay time.Duration, maxRetries uint) *Fixed {
	if delay <= 0 {
		delay = DefaultFixedDelay
	}
	if maxRetries == 0 {
		maxRetries = DefaultFixedMaxRetries
	}
	return &Fixed{constant: cbackoff.NewConstantBackOff(delay), Retries: maxRetries}
}

func (f *Fixed) NextDelay(uint) time.Duration { return f.constant.NextBackOff() }

func (f *Fixed) ShouldStop(attempt uint) bool { return attempt >= f.Retries }

func (f *Fixed) MaxRetries() uint { return f.Retries }

func (f *Fixed) Kind() Kind { return KindFixed }

// Exponential doubles the delay after every failure, capped at Max.
// Delays are deterministic: initial*2^(attempt-1), no jitter.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
	Retries uint
}

// NewExponential returns an Exponential policy. Zero values fall back to the defaults.
func NewExponential(initial, maxDelay time.Duration, maxRetries uint) *Exponential {
	if initial <= 0 {
		initial = DefaultInitialDelay
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	if maxDelay < initial {
		maxDelay = initial
	}
	if maxRetries == 0 {
		maxRetries = DefaultExponentialMaxRetries
	}
	return &Exponential{Initial: initial, Max: maxDelay, Retries: maxRetries}
}

// NextDelay replays a fresh jitter-free exponential backoff attempt times.
func (e *Exponential) NextDelay(attempt uint) time.Duration {
	if attempt == 0 {
		attempt = 1
	}

	b := cbackoff.NewExponentialBackOff()
	b.InitialInterval = e.Initial
	b.MaxInterval = e.Max
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	delay := b.NextBackOff()
	for i := uint(1); i < attempt && delay < e.Max; i++ {
		delay = b.NextBackOff()
	}
	if delay > e.Max {
		delay = e.Max
	}
	return delay
}

func (e *Exponential) ShouldStop(attempt uint) bool { return attempt >= e.Retries }

func (e *Exponential) MaxRetries() uint { return e.Retries }

func (e *Exponential) Kind() Kind { return KindExponential }

// New builds the policy named by kind with its default parameters.
func New(kind Kind) (Policy, error) {
	switch kind {
	case KindFixed:
		return NewFixed(0, 0), nil
	case KindExponential:
		return NewExponential(0, 0, 0), nil
	default:
		return nil, fmt.Errorf("unknown backoff policy %q", kind)
	}
}
