package orchestrator

import (
	"context"
	"fmt"
	"sync"

	contractx "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/contract"
)

// Registry binds stages to agents and tracks which agents initialised.
// Agents are shared by concurrent runs; Initialize runs at most once per
// success and is retried on the next use after a failure.
type Registry struct {
	slots map[contractx.Stage]*slot
}

type slot struct {
	agent contractx.Agent

	mu    sync.Mutex
	ready bool
}

func NewRegistry(agents map[contractx.Stage]contractx.Agent) (*Registry, error) {
	r := &Registry{slots: make(map[contractx.Stage]*slot, len(agents))}
	for stage, agent := range agents {
		if err := r.register(stage, agent); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) register(stage contractx.Stage, agent contractx.Agent) error {
	if !stage.Valid() || stage.IsTerminal() {
		return fmt.Errorf("%w: cannot register agent at %s", contractx.ErrUnknownStage, stage)
	}
	if agent == nil {
		return fmt.Errorf("%w: agent for %s is nil", contractx.ErrValidation, stage)
	}
	r.slots[stage] = &slot{agent: agent}
	return nil
}

// Ready returns the agent bound to stage, initialising it first when needed.
func (r *Registry) Ready(ctx context.Context, stage contractx.Stage) (contractx.Agent, error) {
	s, ok := r.slots[stage]
	if !ok {
		return nil, fmt.Errorf("%w: %s", contractx.ErrAgentMissing, stage)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return s.agent, nil
	}
	if err := s.agent.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", contractx.ErrSetup, stage, err)
	}
	s.ready = true
	return s.agent, nil
}

// Warmup initialises every registered agent and reports the stages that failed.
// Failed stages stay registered and are retried lazily by Ready.
func (r *Registry) Warmup(ctx context.Context) map[contractx.Stage]error {
	failed := make(map[contractx.Stage]error)
	for _, stage := range contractx.Stages() {
		if _, ok := r.slots[stage]; !ok {
			continue
		}
		if _, err := r.Ready(ctx, stage); err != nil {
			failed[stage] = err
		}
	}
	return failed
}

func (r *Registry) Has(stage contractx.Stage) bool {
	_, ok := r.slots[stage]
	return ok
}
