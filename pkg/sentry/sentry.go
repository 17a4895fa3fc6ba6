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

package sentry

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

type IssueType string

const (
	IssueTypeWarning IssueType = "warning"
	IssueTypeError   IssueType = "error"
)

const (
	DefaultAppVersion             = "0.0.0-dev"
	DefaultDevelopmentEnvironment = "development"
	DefaultProductionEnvironment  = "production"

	// DefaultDebounce limits how often one issue type is sent.
	DefaultDebounce = 2 * time.Hour
)

// Reporter logs issues and, when a DSN is configured, sends them to Sentry.
// A nil *Reporter only logs.
type Reporter struct {
	hub      *sentry.Hub
	capture  func(*sentry.Event)
	debounce time.Duration

	mu       sync.Mutex
	lastSent map[IssueType]time.Time
}

// Options configures New.
type Options struct {
	DSN        string
	AppVersion string
	// Debounce overrides DefaultDebounce; negative disables debouncing.
	Debounce time.Duration
}

// New returns a Reporter. An empty DSN or a development version yields a
// Reporter that only logs.
func New(opts Options, log *zap.SugaredLogger) (*Reporter, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	debounce := opts.Debounce
	switch {
	case debounce == 0:
		debounce = DefaultDebounce
	case debounce < 0:
		debounce = 0
	}
	r := &Reporter{debounce: debounce, lastSent: make(map[IssueType]time.Time)}

	if opts.DSN == "" || opts.AppVersion == "" || opts.AppVersion == DefaultAppVersion {
		log.Debug("Sentry disabled: no DSN or development build")
		return r, nil
	}

	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:           opts.DSN,
		Environment:   environmentFor(opts.AppVersion, log),
		Release:       "screenswitch@" + opts.AppVersion,
		EnableTracing: false,
	})
	if err != nil {
		return r, fmt.Errorf("failed to initialize Sentry: %w", err)
	}
	r.hub = sentry.NewHub(client, sentry.NewScope())
	r.capture = func(e *sentry.Event) { r.hub.CaptureEvent(e) }
	return r, nil
}

// environmentFor maps release versions to production and pre-releases to development.
func environmentFor(appVersion string, log *zap.SugaredLogger) string {
	version, err := semver.NewVersion(appVersion)
	if err != nil {
		log.Warnf("Failed to parse app version, using default environment (development): %s", err)
		return DefaultDevelopmentEnvironment
	}
	if version.Prerelease() == "" {
		return DefaultProductionEnvironment
	}
	return DefaultDevelopmentEnvironment
}

// Enabled reports whether issues are sent to Sentry.
func (r *Reporter) Enabled() bool {
	return r != nil && r.capture != nil
}

// ReportIssue logs err and sends it to Sentry unless an issue of the same type
// was sent within the debounce window. context values become tags.
func (r *Reporter) ReportIssue(err error, issueType IssueType, log *zap.SugaredLogger, context map[string]interface{}) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if err == nil {
		return
	}

	switch issueType {
	case IssueTypeWarning:
		log.Warn(err)
	default:
		log.Error(err)
	}

	if !r.Enabled() || !r.shouldSend(issueType) {
		return
	}
	r.capture(createSentryEvent(levelFor(issueType), err, context))
}

// ReportIssuef formats an error message and reports it.
func (r *Reporter) ReportIssuef(issueType IssueType, log *zap.SugaredLogger, template string, args ...interface{}) {
	r.ReportIssue(fmt.Errorf(template, args...), issueType, log, nil)
}

// Flush waits up to timeout for queued events.
func (r *Reporter) Flush(timeout time.Duration) {
	if r == nil || r.hub == nil {
		return
	}
	r.hub.Flush(timeout)
}

func (r *Reporter) shouldSend(issueType IssueType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if last, ok := r.lastSent[issueType]; ok && r.debounce > 0 && time.Since(last) < r.debounce {
		return false
	}
	r.lastSent[issueType] = time.Now()
	return true
}

func levelFor(issueType IssueType) sentry.Level {
	if issueType == IssueTypeWarning {
		return sentry.LevelWarning
	}
	return sentry.LevelError
}

func getMeaningfulErrorTitle(err error) string {
	message := err.Error()

	// Extract the first sentence or phrase (until period, comma or a colon)
	idx := strings.IndexAny(message, ".,:")
	if idx > 0 {
		message = message[:idx]
	}

	// Limit length of Sentry title
	if len(message) > 100 {
		message = message[:97] + "..."
	}

	return message
}

func createSentryEvent(level sentry.Level, err error, context map[string]interface{}) *sentry.Event {
	event := sentry.NewEvent()
	event.Level = level
	event.Message = err.Error()
	event.Exception = []sentry.Exception{{
		Type:       getMeaningfulErrorTitle(err),
		Value:      err.Error(),
		Stacktrace: sentry.ExtractStacktrace(err),
	}}
	event.Fingerprint = []string{"{{ default }}", "level: " + string(level)}

	for key, value := range context {
		if event.Tags == nil {
			event.Tags = make(map[string]string)
		}
		event.Tags[key] = fmt.Sprintf("%v", value)

		if key == "operation" {
			event.Fingerprint = append(event.Fingerprint, fmt.Sprintf("operation: %v", value))
		}
	}

	return event
}
