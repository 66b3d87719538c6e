package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nestor-home/nestor/pkg/observability"
)

// ErrNoPlanApplicable reports that no action can make progress: no goal is
// reachable and no non-goal action is eligible.
var ErrNoPlanApplicable = errors.New("no applicable action can make progress")

// Planner selects and runs actions against a session blackboard until a goal
// action succeeds. Selection prefers eligible goal actions; among non-goal
// actions the declared order of the action slice is the priority order.
type Planner struct {
	actions       []*Action
	maxIterations int
	metrics       *observability.Metrics
}

func New(actions []*Action, maxIterations int) *Planner {
	if maxIterations <= 0 {
		maxIterations = 50
	}
	return &Planner{actions: actions, maxIterations: maxIterations}
}

// Instrument attaches metrics recording for action runs.
func (p *Planner) Instrument(m *observability.Metrics) {
	p.metrics = m
}

// Run drives the plan loop to termination. It returns the goal action's
// FinalResponse, ErrNoPlanApplicable when the plan is stuck, or the context
// error on cancellation. Non-terminal action failures are skipped and the
// planner replans.
func (p *Planner) Run(ctx context.Context, b *Blackboard) (FinalResponse, error) {
	ran := make(map[string]bool, len(p.actions))

	for iter := 0; iter < p.maxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return FinalResponse{}, err
		}

		action := p.selectAction(b, ran)
		if action == nil {
			return FinalResponse{}, ErrNoPlanApplicable
		}

		slog.Debug("running action", "action", action.Name, "iteration", iter, "goal", action.Goal)
		err := action.Run(ctx, b)
		ran[action.Name] = true
		p.metrics.RecordActionRun(ctx, action.Name, err)

		if err != nil {
			if ctx.Err() != nil {
				return FinalResponse{}, ctx.Err()
			}
			slog.Warn("action failed, replanning", "action", action.Name, "error", err)
			continue
		}

		if action.Goal {
			response, ok := LastOf[FinalResponse](b)
			if !ok {
				return FinalResponse{}, fmt.Errorf("goal action %q produced no final response", action.Name)
			}
			return response, nil
		}
	}

	return FinalResponse{}, fmt.Errorf("no goal reached within %d iterations: %w", p.maxIterations, ErrNoPlanApplicable)
}

// selectAction returns the first eligible goal action, or failing that the
// first eligible non-goal action in declared priority order.
func (p *Planner) selectAction(b *Blackboard, ran map[string]bool) *Action {
	var fallback *Action
	for _, action := range p.actions {
		if !action.eligible(b, ran) {
			continue
		}
		if action.Goal {
			return action
		}
		if fallback == nil {
			fallback = action
		}
	}
	return fallback
}
