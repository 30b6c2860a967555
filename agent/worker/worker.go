// Package worker feeds envelopes arriving on the broker's request channels
// into the pipeline and publishes each result on the matching response channel.
// Advisory agents that sit outside the routed pipeline are served the same way
// on channels named after them.
package worker

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	orchestratorx "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/agents/orchestrator"
	contractx "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/contract"
	"github.com/tanpawarit/Chative-Retail-Agent-Pipeline/pkg/broker"
)

const (
	requestSuffix  = "_requests"
	responseSuffix = "_responses"
)

type Config struct {
	Concurrency    int           `split_words:"true" default:"16"`
	PublishTimeout time.Duration `split_words:"true" default:"5s"`
}

type Submitter interface {
	Submit(ctx context.Context, env contractx.Envelope, entry contractx.Stage) (*orchestratorx.Result, error)
}

type Subscriber interface {
	Subscribe(ctx context.Context, handler broker.Handler, channels ...string) error
}

type Worker struct {
	pipeline       Submitter
	subscriber     Subscriber
	publisher      contractx.Publisher
	services       map[string]contractx.Agent
	sem            *semaphore.Weighted
	publishTimeout time.Duration
	logger         zerolog.Logger
	now            func() time.Time

	wg sync.WaitGroup
}

type Option func(*Worker)

func WithLogger(logger zerolog.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

// WithService serves agent on <name>_requests, answering on <name>_responses.
func WithService(name string, agent contractx.Agent) Option {
	return func(w *Worker) {
		if name != "" && agent != nil {
			w.services[name] = agent
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

func New(pipeline Submitter, subscriber Subscriber, publisher contractx.Publisher, cfg Config, opts ...Option) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 16
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	w := &Worker{
		pipeline:       pipeline,
		subscriber:     subscriber,
		publisher:      publisher,
		sem:            semaphore.NewWeighted(int64(cfg.Concurrency)),
		services:       map[string]contractx.Agent{},
		publishTimeout: cfg.PublishTimeout,
		logger:         log.Logger,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// RequestChannel is the channel a stage takes requests from.
func RequestChannel(stage contractx.Stage) string { return stage.String() + requestSuffix }

// ResponseChannel is the channel results of runs entered at stage go to.
func ResponseChannel(stage contractx.Stage) string { return stage.String() + responseSuffix }

// ServiceRequestChannel is the channel an advisory service takes requests from.
func ServiceRequestChannel(name string) string { return name + requestSuffix }

// ServiceResponseChannel is the channel an advisory service answers on.
func ServiceResponseChannel(name string) string { return name + responseSuffix }

// Run blocks until ctx is done. Runs in flight are allowed to finish before it
// returns. Services are initialised first; one that fails keeps Run from starting.
func (w *Worker) Run(ctx context.Context) error {
	stages := map[string]contractx.Stage{}
	channels := make([]string, 0, len(contractx.Stages())+len(w.services))
	for _, stage := range contractx.Stages() {
		ch := RequestChannel(stage)
		stages[ch] = stage
		channels = append(channels, ch)
	}

	services := map[string]string{}
	names := make([]string, 0, len(w.services))
	for name := range w.services {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if err := w.services[name].Initialize(ctx); err != nil {
			return fmt.Errorf("initialize %s service: %w", name, err)
		}
		ch := ServiceRequestChannel(name)
		services[ch] = name
		channels = append(channels, ch)
	}

	w.logger.Info().Strs("channels", channels).Msg("worker subscribed")
	err := w.subscriber.Subscribe(ctx, func(ctx context.Context, channel string, env contractx.Envelope) error {
		stage, isStage := stages[channel]
		name, isService := services[channel]
		if !isStage && !isService {
			return fmt.Errorf("no stage or service for channel %s", channel)
		}
		// Blocking here holds the subscription loop, which is the backpressure.
		if err := w.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer w.sem.Release(1)
			if isService {
				w.handleService(ctx, name, env)
				return
			}
			w.handle(ctx, stage, env)
		}()
		return nil
	}, channels...)

	w.wg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Worker) handle(ctx context.Context, stage contractx.Stage, env contractx.Envelope) {
	logger := w.logger.With().Str("stage", stage.String()).Str("customer_id", env.CustomerID()).Logger()

	var reply contractx.Envelope
	if w.expired(env) {
		logger.Warn().Msg("dropping expired request")
		reply = contractx.ErrorEnvelope("request expired", replyMetadata(env))
	} else {
		reply = w.submit(ctx, stage, env, logger)
	}
	w.publish(ctx, ResponseChannel(stage), reply, logger)
}

// handleService runs a service agent directly. Its failures are not retried.
func (w *Worker) handleService(ctx context.Context, name string, env contractx.Envelope) {
	logger := w.logger.With().Str("service", name).Str("customer_id", env.CustomerID()).Logger()

	var reply contractx.Envelope
	switch {
	case w.expired(env):
		logger.Warn().Msg("dropping expired request")
		reply = contractx.ErrorEnvelope("request expired", replyMetadata(env))
	default:
		out, err := w.services[name].Process(ctx, env)
		if err == nil {
			err = out.Validate()
		}
		if err != nil {
			logger.Error().Err(err).Msg("service request failed")
			reply = contractx.ErrorEnvelope(err.Error(), replyMetadata(env))
		} else {
			reply = out
		}
	}
	w.publish(ctx, ServiceResponseChannel(name), reply, logger)
}

func (w *Worker) publish(ctx context.Context, channel string, reply contractx.Envelope, logger zerolog.Logger) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.publishTimeout)
	defer cancel()
	if err := w.publisher.Publish(pubCtx, channel, reply); err != nil {
		logger.Error().Err(err).Str("channel", channel).Msg("failed to publish response")
	}
}

// expired applies the envelope TTL to requests that carry the time they were
// sent. Requests without a readable timestamp never expire.
func (w *Worker) expired(env contractx.Envelope) bool {
	raw := env.MetadataString(contractx.MetaTimestamp)
	if raw == "" {
		return false
	}
	sent, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return false
	}
	return env.Expired(sent, w.now())
}

func replyMetadata(env contractx.Envelope) map[string]any {
	meta := map[string]any{}
	if id := env.CustomerID(); id != "" {
		meta[contractx.MetaCustomerID] = id
	}
	if runID := env.MetadataString(contractx.MetaRunID); runID != "" {
		meta[contractx.MetaRunID] = runID
	}
	return meta
}

// submit runs the pipeline and always yields an envelope to answer with.
func (w *Worker) submit(ctx context.Context, stage contractx.Stage, env contractx.Envelope, logger zerolog.Logger) contractx.Envelope {
	res, err := w.pipeline.Submit(ctx, env, stage)
	if err == nil {
		return res.Envelope
	}

	var unrecoverable *orchestratorx.UnrecoverableError
	if errors.As(err, &unrecoverable) {
		logger.Error().Err(err).Msg("pipeline run failed")
		return unrecoverable.Envelope
	}

	logger.Warn().Err(err).Msg("pipeline run rejected")
	return contractx.ErrorEnvelope(err.Error(), replyMetadata(env))
}
