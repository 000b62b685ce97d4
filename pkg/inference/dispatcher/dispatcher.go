// Package dispatcher turns one outgoing user message into exactly one
// assistant reply: either the model's text or a terminal error message.
//
// Each attempt is bounded by the dispatch timeout. Rate limiting and server
// errors are retried with capped exponential backoff; nothing else is.
package dispatcher

import (
	"context"
	"net/http"
	"time"

	"github.com/go-go-golems/mastro/pkg/conversation"
	"github.com/go-go-golems/mastro/pkg/security"
	"github.com/go-go-golems/mastro/pkg/steps/ai/gemini"
	"github.com/go-go-golems/mastro/pkg/steps/ai/settings"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Sleeper waits for d unless ctx is done first.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type Dispatcher struct {
	api        settings.APISettings
	generation settings.GenerationSettings
	dispatch   settings.DispatchSettings

	httpClient *http.Client
	sleep      Sleeper
	now        func() time.Time
	metrics    *Metrics
}

type Option func(*Dispatcher)

func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) {
		d.httpClient = c
	}
}

// WithSleeper replaces the backoff wait, e.g. to record delays in tests.
func WithSleeper(s Sleeper) Option {
	return func(d *Dispatcher) {
		d.sleep = s
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

func WithRegisterer(reg prometheus.Registerer) Option {
	return func(d *Dispatcher) {
		d.metrics = NewMetrics(reg)
	}
}

func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

func New(s *settings.Settings, options ...Option) *Dispatcher {
	ret := &Dispatcher{
		api:        s.API,
		generation: s.Generation,
		dispatch:   s.Dispatch,
		httpClient: http.DefaultClient,
		sleep:      sleepContext,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(ret)
	}
	if ret.metrics == nil {
		ret.metrics = NewMetrics(nil)
	}
	return ret
}

func (d *Dispatcher) Metrics() *Metrics {
	return d.metrics
}

// Backoff is the wait before retry number attempt+1:
// min(base * 2^attempt, max).
func Backoff(attempt int, base, max time.Duration) time.Duration {
	delay := base
	for i := 0; i < attempt; i++ {
		if delay >= max {
			break
		}
		delay *= 2
	}
	if delay > max {
		return max
	}
	return delay
}

// Dispatch sends msg and returns the reply. It never fails: every failure is
// turned into an error message whose IsFinal tells whether a manual retry
// makes sense.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *conversation.Message) *conversation.Message {
	text, err := d.Send(ctx, msg.Text)
	if err != nil {
		return conversation.NewErrorMessage(err.UserMessage(), err.Final(), conversation.WithTimestamp(d.now()))
	}
	return conversation.NewAssistantMessage(text, conversation.WithTimestamp(d.now()))
}

// Send runs the attempt loop for text and returns the reply text or the
// classified failure of the last attempt.
func (d *Dispatcher) Send(ctx context.Context, text string) (string, *Error) {
	if !d.api.IsConfigured() {
		log.Error().Msg("API configuration error: endpoint URL or API key missing")
		d.metrics.AttemptsTotal.WithLabelValues(string(KindConfiguration)).Inc()
		return "", &Error{Kind: KindConfiguration}
	}
	if err := security.ValidateEndpoint(d.api.URL, d.dispatch.EndpointOptions()); err != nil {
		log.Error().Err(err).Msg("API configuration error: endpoint rejected")
		d.metrics.AttemptsTotal.WithLabelValues(string(KindConfiguration)).Inc()
		return "", &Error{Kind: KindConfiguration, Message: endpointRejectedMessage(err), Err: err}
	}

	start := time.Now()
	defer func() {
		d.metrics.Duration.Observe(time.Since(start).Seconds())
	}()

	client := gemini.NewClient(d.api.URL, d.api.Key, gemini.WithHTTPClient(d.httpClient))
	req := gemini.NewUserRequest(text, gemini.GenerationConfig{
		Temperature:     d.generation.Temperature,
		TopK:            d.generation.TopK,
		TopP:            d.generation.TopP,
		MaxOutputTokens: d.generation.MaxOutputTokens,
	})

	for attempt := 0; ; attempt++ {
		reply, err := d.attempt(ctx, client, req)
		if err == nil {
			d.metrics.AttemptsTotal.WithLabelValues(outcomeSuccess).Inc()
			log.Debug().Int("attempt", attempt).Msg("dispatch succeeded")
			return reply, nil
		}
		d.metrics.AttemptsTotal.WithLabelValues(string(err.Kind)).Inc()

		if err.Kind != KindTransient || attempt >= d.dispatch.MaxAttempts {
			log.Warn().Err(err).Int("attempt", attempt).Msg("dispatch failed")
			return "", err
		}

		delay := Backoff(attempt, d.dispatch.BackoffBase, d.dispatch.BackoffMax)
		log.Info().
			Int("attempt", attempt).
			Int("status", err.StatusCode).
			Dur("backoff", delay).
			Msg("transient API failure, retrying")
		d.metrics.RetriesTotal.Inc()

		// The per-request timeout does not apply to the backoff; only the
		// caller's cancellation does.
		if serr := d.sleep(ctx, delay); serr != nil {
			return "", &Error{Kind: KindCanceled, Err: serr}
		}
	}
}

func (d *Dispatcher) attempt(ctx context.Context, client *gemini.Client, req *gemini.GenerateContentRequest) (string, *Error) {
	attemptCtx, cancel := context.WithTimeout(ctx, d.dispatch.Timeout)
	defer cancel()

	resp, err := client.GenerateContent(attemptCtx, req)
	if err != nil {
		return "", classify(ctx, attemptCtx, err)
	}

	text, err := resp.Text()
	if err != nil {
		return "", &Error{Kind: KindProtocol, Message: MessageInvalidFormat, Err: err}
	}
	return text, nil
}

func classify(parent, attemptCtx context.Context, err error) *Error {
	var apiErr *gemini.APIError
	if errors.As(err, &apiErr) {
		kind := KindProtocol
		if apiErr.Transient() {
			kind = KindTransient
		}
		return &Error{Kind: kind, StatusCode: apiErr.StatusCode, Message: apiErr.Message, Err: err}
	}

	if errors.Is(err, gemini.ErrInvalidResponse) {
		return &Error{Kind: KindProtocol, Message: MessageInvalidFormat, Err: err}
	}

	if errors.Is(parent.Err(), context.Canceled) {
		return &Error{Kind: KindCanceled, Err: err}
	}
	if attemptCtx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}
	}

	return &Error{Kind: KindConnectivity, Err: err}
}
