package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	contractx "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/contract"
	nodex "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/nodes"
	routingx "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/routing"
	statex "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/state"
	metricsx "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/pkg/metrics"
)

var tracer = otel.Tracer("retail-pipeline/orchestrator")

type Config struct {
	MaxRetries   int           `split_words:"true" default:"3"`
	MaxSteps     int           `split_words:"true" default:"25"`
	StageTimeout time.Duration `split_words:"true" default:"60s"`
	RoutingFile  string        `split_words:"true"`
}

type Option func(*Orchestrator)

func WithTranscriptStore(store statex.TranscriptStore) Option {
	return func(o *Orchestrator) { o.transcripts = store }
}

func WithPublisher(pub contractx.Publisher, channel string) Option {
	return func(o *Orchestrator) {
		o.publisher = pub
		if channel != "" {
			o.resultChannel = channel
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

func WithRunIDs(next func() string) Option {
	return func(o *Orchestrator) {
		if next != nil {
			o.newRunID = next
		}
	}
}

// Orchestrator drives envelopes through the stage agents until the routing
// table terminates the run or the controller gives up.
type Orchestrator struct {
	agents     *Registry
	controller *routingx.Controller

	transcripts   statex.TranscriptStore
	publisher     contractx.Publisher
	resultChannel string

	maxSteps     int
	stageTimeout time.Duration

	graphRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]

	logger   zerolog.Logger
	now      func() time.Time
	newRunID func() string
}

// Result is a completed run: the envelope of the last stage and the state that produced it.
type Result struct {
	Envelope     contractx.Envelope
	Conversation *statex.Conversation
}

func New(agents *Registry, table *routingx.Table, cfg Config, opts ...Option) (*Orchestrator, error) {
	if agents == nil {
		return nil, errors.New("agent registry is required")
	}
	if table == nil {
		table = routingx.DefaultTable()
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 60 * time.Second
	}

	controller, err := routingx.NewController(routingx.NewPolicy(table), routingx.WithMaxRetries(cfg.MaxRetries))
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		agents:        agents,
		controller:    controller,
		resultChannel: "pipeline_results",
		maxSteps:      stepBudget(cfg),
		stageTimeout:  cfg.StageTimeout,
		logger:        log.Logger,
		now:           time.Now,
		newRunID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	for _, stage := range contractx.Stages() {
		if !agents.Has(stage) {
			o.logger.Warn().Str("stage", stage.String()).Msg("no agent registered; runs reaching this stage fall back")
		}
	}

	graphRunner, err := o.compileHandleMessageGraph(context.Background())
	if err != nil {
		return nil, err
	}
	o.graphRunner = graphRunner

	return o, nil
}

// stepBudget raises MaxSteps so that every stage can spend all its retries
// and still reach its fallback.
func stepBudget(cfg Config) int {
	steps := cfg.MaxSteps
	if steps <= 0 {
		steps = 25
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	floor := (retries + 1) * (len(contractx.Stages()) + 1)
	if steps < floor {
		return floor
	}
	return steps
}

// Submit runs env through the pipeline starting at entry and blocks until the
// run terminates. Retries and fallbacks exhausted surface as *UnrecoverableError.
// Cancelling ctx stops the run between stages; a stage already running finishes.
func (o *Orchestrator) Submit(ctx context.Context, env contractx.Envelope, entry contractx.Stage) (*Result, error) {
	if !entry.Valid() || entry.IsTerminal() {
		return nil, fmt.Errorf("%w: entry %s", contractx.ErrUnknownStage, entry)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}

	runID := env.MetadataString(contractx.MetaRunID)
	if runID == "" {
		runID = o.newRunID()
	}
	conv := statex.NewConversation(runID, env.CustomerID(), entry, o.now())
	input := env.WithMetadata(map[string]any{
		contractx.MetaRunID:      runID,
		contractx.MetaEntryStage: entry.String(),
	})
	return o.run(ctx, conv, input)
}

func (o *Orchestrator) run(ctx context.Context, conv *statex.Conversation, input contractx.Envelope) (res *Result, err error) {
	ctx, span := tracer.Start(ctx, "pipeline.submit", trace.WithAttributes(
		attribute.String("retail.run_id", conv.RunID),
		attribute.String("retail.entry_stage", conv.EntryStage.String()),
	))
	defer span.End()

	defer metricsx.RunStarted()()
	started := time.Now()
	logger := o.logger.With().Str("run_id", conv.RunID).Str("customer_id", conv.CustomerID).Logger()

	defer func() {
		status := "success"
		switch {
		case errors.Is(err, contractx.ErrUnrecoverable):
			status = "unrecoverable"
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			status = "cancelled"
		case err != nil:
			status = "error"
		}
		metricsx.RecordRun(conv.EntryStage.String(), status, time.Since(started))
		span.SetAttributes(attribute.Int("retail.steps", conv.Steps), attribute.Int("retail.failures", len(conv.Errors)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return
		}
		span.SetStatus(codes.Ok, "success")
	}()

	conv.AppendHistory(input)
	current := input
	stage := conv.EntryStage

	for {
		if cerr := ctx.Err(); cerr != nil {
			logger.Info().Str("stage", stage.String()).Msg("run cancelled")
			return nil, fmt.Errorf("run %s cancelled before %s: %w", conv.RunID, stage, cerr)
		}
		if conv.Steps >= o.maxSteps {
			return nil, o.unrecoverable(conv, stage, current,
				fmt.Sprintf("step budget of %d exhausted", o.maxSteps), contractx.ErrStepBudgetExceeded)
		}

		conv.Steps++
		conv.SetStage(stage, o.now())
		outcome := o.invoke(ctx, conv, stage, current)

		decision, derr := o.controller.Next(conv, stage, outcome, o.now())
		if derr != nil {
			return nil, derr
		}
		metricsx.RecordDecision(stage.String(), decision.Action.String())
		logger.Debug().
			Str("stage", stage.String()).
			Str("action", decision.Action.String()).
			Str("next", decision.Next.String()).
			Str("category", string(decision.Category)).
			Int("attempt", decision.Attempt).
			Msg("routing decision")

		switch decision.Action {
		case routingx.ActionAdvance:
			conv.RecordResult(stage, outcome.Envelope, o.now())
			current = outcome.Envelope
			stage = decision.Next
		case routingx.ActionTerminate:
			conv.RecordResult(stage, outcome.Envelope, o.now())
			conv.SetStage(contractx.StageTerminal, o.now())
			return &Result{Envelope: outcome.Envelope, Conversation: conv}, nil
		case routingx.ActionRetry:
			logger.Warn().Err(outcome.Err).Str("stage", stage.String()).Int("attempt", decision.Attempt).Msg("retrying stage")
		case routingx.ActionFallback:
			logger.Warn().Err(outcome.Err).Str("stage", stage.String()).Str("fallback", decision.Next.String()).Msg("stage exhausted retries, falling back")
			stage = decision.Next
		case routingx.ActionUnrecoverable:
			return nil, o.unrecoverable(conv, stage, current, decision.Reason, outcome.Err)
		default:
			return nil, fmt.Errorf("unexpected routing action %s", decision.Action)
		}
	}
}

// invoke runs one stage. The caller's cancellation does not reach the agent;
// only the stage timeout bounds it.
func (o *Orchestrator) invoke(ctx context.Context, conv *statex.Conversation, stage contractx.Stage, in contractx.Envelope) routingx.Outcome {
	stageCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.stageTimeout)
	defer cancel()

	stageCtx, span := tracer.Start(stageCtx, "pipeline.stage", trace.WithAttributes(
		attribute.String("retail.stage", stage.String()),
		attribute.Int("retail.retry_count", conv.RetryCount(stage)),
	))
	defer span.End()

	started := time.Now()
	status := "success"
	defer func() {
		metricsx.RecordStage(stage.String(), status, time.Since(started))
	}()

	agent, err := o.agents.Ready(stageCtx, stage)
	if err != nil {
		status = "setup_failure"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return routingx.Failure(err)
	}

	out, err := agent.Process(stageCtx, in.Clone())
	if err == nil {
		err = out.Validate()
	}
	if err != nil {
		status = "failure"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return routingx.Failure(fmt.Errorf("%s: %w", stage, err))
	}

	span.SetStatus(codes.Ok, "success")
	return routingx.Success(o.stamp(conv, stage, in, out))
}

// stamp adds run bookkeeping to a stage result and carries the customer
// through stages that do not echo it back.
func (o *Orchestrator) stamp(conv *statex.Conversation, stage contractx.Stage, in, out contractx.Envelope) contractx.Envelope {
	meta := map[string]any{
		contractx.MetaAgent:      stage.String(),
		contractx.MetaRunID:      conv.RunID,
		contractx.MetaRetryCount: conv.RetryCount(stage),
	}
	if _, ok := out.Metadata[contractx.MetaTimestamp]; !ok {
		meta[contractx.MetaTimestamp] = o.now().UTC().Format(time.RFC3339Nano)
	}
	if out.CustomerID() == "" && in.CustomerID() != "" {
		meta[contractx.MetaCustomerID] = in.CustomerID()
	}
	return out.WithMetadata(meta)
}

func (o *Orchestrator) unrecoverable(conv *statex.Conversation, stage contractx.Stage, last contractx.Envelope, reason string, cause error) error {
	conv.SetStage(contractx.StageTerminal, o.now())
	env := contractx.ErrorEnvelope(reason, map[string]any{
		contractx.MetaAgent:      stage.String(),
		contractx.MetaRunID:      conv.RunID,
		contractx.MetaCustomerID: last.CustomerID(),
		contractx.MetaTimestamp:  o.now().UTC().Format(time.RFC3339Nano),
	})
	conv.AppendHistory(env)

	o.logger.Error().
		Err(cause).
		Str("run_id", conv.RunID).
		Str("stage", stage.String()).
		Int("failures", len(conv.Errors)).
		Int("stage_failures", conv.FailuresFor(stage)).
		Msg("pipeline failed unrecoverably")

	return &UnrecoverableError{
		Stage:        stage,
		Reason:       reason,
		Envelope:     env,
		Conversation: conv,
		cause:        cause,
	}
}

// HandleMessage is the chat entry point: it runs the pipeline for one inbound
// message, keeps the transcript and renders the reply text.
func (o *Orchestrator) HandleMessage(ctx context.Context, req nodex.GraphInput) (nodex.GraphOutput, error) {
	out, err := o.graphRunner.Invoke(ctx, req)
	if err != nil {
		return nodex.GraphOutput{}, err
	}
	if out.Failure != nil {
		return out, out.Failure
	}
	return out, nil
}
