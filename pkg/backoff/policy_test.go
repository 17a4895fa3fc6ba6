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
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponential_NextDelay(t *testing.T) {
	p := NewExponential(time.Second, 60*time.Second, 10)

	want := []time.Duration{1, 2, 4, 8, 16, 32, 60, 60, 60, 60}
	for i, w := range want {
		attempt := uint(i + 1)
		assert.Equal(t, w*time.Second, p.NextDelay(attempt), "attempt %d", attempt)
	}
}

func TestExponential_MonotonicAndCapped(t *testing.T) {
	p := NewExponential(250*time.Millisecond, 7*time.Second, 50)

	prev := time.Duration(0)
	for n := uint(1); n <= 50; n++ {
		d := p.NextDelay(n)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", n)
		assert.LessOrEqual(t, d, 7*time.Second, "attempt %d", n)
		prev = d
	}
	assert.Equal(t, 7*time.Second, prev)
}

func TestExponential_ZeroAttemptTreatedAsFirst(t *testing.T) {
	p := NewExponential(0, 0, 0)
	assert.Equal(t, DefaultInitialDelay, p.NextDelay(0))
	assert.Equal(t, uint(DefaultExponentialMaxRetries), p.MaxRetries())
}

func TestFixed_NextDelay(t *testing.T) {
	p := NewFixed(0, 0)
	for n := uint(1); n <= 5; n++ {
		assert.Equal(t, DefaultFixedDelay, p.NextDelay(n))
	}
	assert.Equal(t, uint(DefaultFixedMaxRetries), p.MaxRetries())

	custom := NewFixed(3*time.Second, 2)
	assert.Equal(t, 3*time.Second, custom.NextDelay(1))
	assert.Equal(t, 3*time.Second, custom.NextDelay(7))
}

func TestShouldStop_ExactlyAtMaxRetries(t *testing.T) {
	policies := []Policy{NewFixed(time.Second, 5), NewExponential(time.Second, time.Minute, 10)}
	for _, p := range policies {
		limit := p.MaxRetries()
		for n := uint(0); n < limit; n++ {
			assert.False(t, p.ShouldStop(n), "%s attempt %d", p.Kind(), n)
		}
		assert.True(t, p.ShouldStop(limit), "%s attempt %d", p.Kind(), limit)
		assert.True(t, p.ShouldStop(limit+1), "%s attempt %d", p.Kind(), limit+1)
	}
}

func TestParseKindAndNew(t *testing.T) {
	k, err := ParseKind(" Exponential ")
	require.NoError(t, err)
	assert.Equal(t, KindExponential, k)

	p, err := New(k)
	require.NoError(t, err)
	assert.Equal(t, KindExponential, p.Kind())

	k, err = ParseKind("fixed")
	require.NoError(t, err)
	p, err = New(k)
	require.NoError(t, err)
	assert.Equal(t, KindFixed, p.Kind())

	_, err = ParseKind("linear")
	assert.Error(t, err)
	_, err = New("linear")
	assert.Error(t, err)
}

func TestErrorCategories(t *testing.T) {
	root := errors.New("connection refused")

	transient := fmt.Errorf("attempt 3: %w", NewTransientError(root))
	assert.Equal(t, CategoryTransient, CategoryOf(transient))
	assert.False(t, IsPermanentError(transient))
	assert.ErrorIs(t, transient, root)

	permanent := NewPermanentError(root)
	assert.True(t, IsPermanentError(permanent))
	assert.Equal(t, "connection refused", permanent.Error())

	ignored := NewIgnoredError(root)
	assert.True(t, IsIgnoredError(ignored))
	assert.Equal(t, "ignored", CategoryOf(ignored).String())

	assert.Equal(t, CategoryTransient, CategoryOf(root), "uncategorized errors count as transient")
	assert.False(t, IsPermanentError(nil))
	assert.False(t, IsIgnoredError(nil))
}
