// Package lro drives the asynchronous completion protocols of the remote API.
//
// Protocols:
//  1. Async-operation: poll the azure-asyncoperation URL for a status body
//  2. Location: poll the location URL while it answers 202
//  3. Resource-state (legacy): poll the resource while it reports a
//     transitional provisioning or operation state
//  4. Managed certificate: poll the certificate until it leaves
//     its pending state, surfacing the TXT validation token once
//
// Every loop honours retry headers, an overall deadline measured from the
// start of the poll, and context cancellation between polls.
package lro

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/flavioaiello/containerapps/pkg/apperrors"
	"github.com/flavioaiello/containerapps/pkg/arm"
	"github.com/flavioaiello/containerapps/pkg/progress"
)

// Polling constants.
const (
	DefaultInterval            = 2 * time.Second
	DefaultTimeout             = 1200 * time.Second
	ManagedCertificateInterval = 4 * time.Second
	ManagedCertificateTimeout  = 1500 * time.Second
)

// Header names.
const (
	HeaderAsyncOperation  = "Azure-AsyncOperation"
	HeaderLocation        = "Location"
	HeaderRetryAfter      = "Retry-After"
	HeaderRetryAfterMs    = "Retry-After-Ms"
	HeaderXMsRetryAfterMs = "x-ms-retry-after-ms"
)

// Operation states.
const (
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
	StatusInProgress = "inprogress"
	StatusRunning    = "running"
	StatusPending    = "pending"

	stateScheduledForDelete = "scheduledfordelete"
)

// Errors.
var (
	ErrTimeout       = errors.New("long-running operation timed out")
	ErrMissingStatus = errors.New("operation status body has no status")
)

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Options bounds one family of polls.
type Options struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Poller runs the completion protocols over a Doer.
type Poller struct {
	doer        arm.Doer
	logger      *zap.Logger
	clock       Clock
	progress    progress.Progress
	general     Options
	certificate Options
}

// Option configures a Poller.
type Option func(*Poller)

// WithClock injects a clock.
func WithClock(c Clock) Option {
	return func(p *Poller) {
		p.clock = c
	}
}

// WithProgress injects the progress sink.
func WithProgress(pr progress.Progress) Option {
	return func(p *Poller) {
		p.progress = pr
	}
}

// WithGeneral overrides the general interval and timeout. Zero fields keep
// the defaults.
func WithGeneral(o Options) Option {
	return func(p *Poller) {
		p.general = mergeOptions(p.general, o)
	}
}

// WithCertificate overrides the managed certificate interval and timeout.
func WithCertificate(o Options) Option {
	return func(p *Poller) {
		p.certificate = mergeOptions(p.certificate, o)
	}
}

func mergeOptions(base, o Options) Options {
	if o.Interval > 0 {
		base.Interval = o.Interval
	}
	if o.Timeout > 0 {
		base.Timeout = o.Timeout
	}
	return base
}

// NewPoller creates a poller with the default intervals and deadlines.
func NewPoller(doer arm.Doer, logger *zap.Logger, opts ...Option) *Poller {
	p := &Poller{
		doer:        doer,
		logger:      logger,
		clock:       realClock{},
		progress:    progress.Nop{},
		general:     Options{Interval: DefaultInterval, Timeout: DefaultTimeout},
		certificate: Options{Interval: ManagedCertificateInterval, Timeout: ManagedCertificateTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AsyncOperationURL returns the azure-asyncoperation header of resp.
func AsyncOperationURL(resp *arm.Response) (string, error) {
	if v := resp.Header.Get(HeaderAsyncOperation); v != "" {
		return v, nil
	}
	return "", apperrors.MissingAsyncHeader(strings.ToLower(HeaderAsyncOperation))
}

// LocationURL returns the location header of resp.
func LocationURL(resp *arm.Response) (string, error) {
	if v := resp.Header.Get(HeaderLocation); v != "" {
		return v, nil
	}
	return "", apperrors.MissingAsyncHeader(strings.ToLower(HeaderLocation))
}

// Delay returns the wait requested by the retry headers of h, else fallback.
func Delay(h http.Header, fallback time.Duration) time.Duration {
	if h == nil {
		return fallback
	}
	if v := h.Get(HeaderRetryAfter); v != "" {
		if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	for _, name := range []string{HeaderRetryAfterMs, HeaderXMsRetryAfterMs} {
		if v := h.Get(name); v != "" {
			if ms, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && ms >= 0 {
				return time.Duration(ms) * time.Millisecond
			}
		}
	}
	return fallback
}

type operationStatus struct {
	Status string                 `json:"status"`
	Error  *apperrors.RemoteError `json:"error"`
}

// PollStatus drives the async-operation protocol and returns the body of
// a final GET on resourceURL.
func (p *Poller) PollStatus(ctx context.Context, statusURL, resourceURL string) (*arm.Response, error) {
	defer p.progress.Flush()
	start := p.clock.Now()
	var delay time.Duration

	for {
		if err := p.checkDeadline(start, p.general.Timeout, statusURL); err != nil {
			return nil, err
		}
		if err := p.wait(ctx, delay); err != nil {
			return nil, err
		}
		p.progress.Tick()

		resp, err := p.doer.Do(ctx, http.MethodGet, statusURL, nil)
		if err != nil {
			return nil, apperrors.FromContext(err)
		}
		delay = Delay(resp.Header, p.general.Interval)
		if resp.StatusCode == http.StatusAccepted {
			continue
		}

		var op operationStatus
		if err := json.Unmarshal(resp.Body, &op); err != nil {
			return nil, apperrors.Internal("failed to decode operation status: %v", err)
		}
		if op.Status == "" {
			return nil, apperrors.Internal("%v: %s", ErrMissingStatus, statusURL)
		}

		switch strings.ToLower(op.Status) {
		case StatusSucceeded:
			p.logger.Debug("Operation succeeded", zap.String("url", statusURL))
			final, err := p.doer.Do(ctx, http.MethodGet, resourceURL, nil)
			if err != nil {
				return nil, apperrors.FromContext(err)
			}
			return final, nil
		case StatusFailed, StatusCanceled:
			p.logger.Debug("Operation ended without success",
				zap.String("url", statusURL), zap.String("status", op.Status))
			return nil, apperrors.FromOperationError(op.Error, op.Status)
		}
	}
}

// PollResult drives the location protocol. A 404 means the resource is
// gone and returns (nil, nil).
func (p *Poller) PollResult(ctx context.Context, locationURL string) (*arm.Response, error) {
	defer p.progress.Flush()
	start := p.clock.Now()
	var delay time.Duration

	for {
		if err := p.checkDeadline(start, p.general.Timeout, locationURL); err != nil {
			return nil, err
		}
		if err := p.wait(ctx, delay); err != nil {
			return nil, err
		}
		p.progress.Tick()

		resp, err := p.doer.Do(ctx, http.MethodGet, locationURL, nil)
		if err != nil {
			if apperrors.IsNotFound(err) {
				return nil, nil
			}
			return nil, apperrors.FromContext(err)
		}
		if resp.StatusCode != http.StatusAccepted {
			return resp, nil
		}
		delay = Delay(resp.Header, p.general.Interval)
	}
}

// PollResourceState drives the legacy resource-state protocol. 200 and 201
// both mean the resource may still be transitioning. When deleting, any
// error ends the poll successfully.
func (p *Poller) PollResourceState(ctx context.Context, resourceURL string, deleting bool) (*arm.Response, error) {
	defer p.progress.Flush()
	start := p.clock.Now()
	var delay time.Duration

	for {
		if err := p.checkDeadline(start, p.general.Timeout, resourceURL); err != nil {
			return nil, err
		}
		if err := p.wait(ctx, delay); err != nil {
			return nil, err
		}
		p.progress.Tick()

		resp, err := p.doer.Do(ctx, http.MethodGet, resourceURL, nil)
		if err != nil {
			if deleting && apperrors.KindOf(err) != apperrors.KindCancelled {
				return nil, nil
			}
			return nil, apperrors.FromContext(err)
		}
		delay = Delay(resp.Header, p.general.Interval)
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			return resp, nil
		}
		state := resourceState(resp.Body)
		switch {
		case state == StatusRunning, state == StatusInProgress, state == StatusPending:
			continue
		case deleting && state == stateScheduledForDelete:
			continue
		}
		return resp, nil
	}
}

// PollManagedCertificate polls a managed certificate resource until its
// provisioning state is terminal. When reportToken is set the first
// validation token seen is surfaced exactly once.
func (p *Poller) PollManagedCertificate(ctx context.Context, certURL string, reportToken bool) (*arm.Response, error) {
	defer p.progress.Flush()
	start := p.clock.Now()
	var delay time.Duration
	tokenReported := false

	for {
		if err := p.checkDeadline(start, p.certificate.Timeout, certURL); err != nil {
			return nil, err
		}
		if err := p.wait(ctx, delay); err != nil {
			return nil, err
		}
		p.progress.Tick()

		resp, err := p.doer.Do(ctx, http.MethodGet, certURL, nil)
		if err != nil {
			return nil, apperrors.FromContext(err)
		}
		delay = Delay(resp.Header, p.certificate.Interval)
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			return resp, nil
		}

		var body struct {
			Properties struct {
				ProvisioningState string `json:"provisioningState"`
				ValidationToken   string `json:"validationToken"`
			} `json:"properties"`
		}
		if err := json.Unmarshal(resp.Body, &body); err != nil {
			return nil, apperrors.Internal("failed to decode managed certificate: %v", err)
		}

		if reportToken && !tokenReported && body.Properties.ValidationToken != "" {
			tokenReported = true
			p.logger.Info("Managed certificate validation token",
				zap.String("url", certURL), zap.String("token", body.Properties.ValidationToken))
			p.progress.Message("Add a TXT record with the validation token: " + body.Properties.ValidationToken)
		}

		// An empty state means the certificate is not tracked yet.
		switch strings.ToLower(body.Properties.ProvisioningState) {
		case StatusSucceeded, StatusFailed, StatusCanceled:
			return resp, nil
		}
	}
}

// PollUntil GETs url until done reports true, for resources that track
// progress in a field of their own such as registry runs. It shares the
// general interval, deadline and cancellation contract.
func (p *Poller) PollUntil(ctx context.Context, url string, done func(*arm.Response) (bool, error)) (*arm.Response, error) {
	defer p.progress.Flush()
	start := p.clock.Now()
	var delay time.Duration

	for {
		if err := p.checkDeadline(start, p.general.Timeout, url); err != nil {
			return nil, err
		}
		if err := p.wait(ctx, delay); err != nil {
			return nil, err
		}
		p.progress.Tick()

		resp, err := p.doer.Do(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, apperrors.FromContext(err)
		}
		finished, err := done(resp)
		if err != nil {
			return nil, err
		}
		if finished {
			return resp, nil
		}
		delay = Delay(resp.Header, p.general.Interval)
	}
}

// Now returns the poller clock time.
func (p *Poller) Now() time.Time {
	return p.clock.Now()
}

// Sleep waits d on the poller clock or until ctx is done.
func (p *Poller) Sleep(ctx context.Context, d time.Duration) error {
	return p.wait(ctx, d)
}

func (p *Poller) checkDeadline(start time.Time, timeout time.Duration, url string) error {
	if p.clock.Now().Sub(start) >= timeout {
		return apperrors.Internal("%v after %s: %s", ErrTimeout, timeout, url)
	}
	return nil
}

func (p *Poller) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if err := ctx.Err(); err != nil {
			return apperrors.Cancelled(err)
		}
		return nil
	}
	select {
	case <-ctx.Done():
		return apperrors.Cancelled(ctx.Err())
	case <-p.clock.After(d):
		return nil
	}
}

func resourceState(body []byte) string {
	var r struct {
		Properties struct {
			ProvisioningState string `json:"provisioningState"`
			OperationState    string `json:"operationState"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(body, &r); err != nil {
		return ""
	}
	if r.Properties.ProvisioningState != "" {
		return strings.ToLower(r.Properties.ProvisioningState)
	}
	return strings.ToLower(r.Properties.OperationState)
}
