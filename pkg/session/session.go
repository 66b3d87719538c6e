package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nestor-home/nestor/pkg/config"
	"github.com/nestor-home/nestor/pkg/index"
	"github.com/nestor-home/nestor/pkg/planner"
)

// Deployer is notified after the caller persists a proposal, so the code
// index stays warm without a full re-scan.
type Deployer interface {
	OnDeployed(ctx context.Context, files []index.DeployedFile) error
}

// Facade turns one user message into a FinalResponse. It owns the blackboard
// lifecycle and the session deadline; every planner or infrastructure error
// is mapped to a failure response here so callers always get something to
// show the user.
type Facade struct {
	deps planner.Deps
	idx  Deployer
	cfg  *config.PlannerConfig
}

func NewFacade(deps planner.Deps, idx Deployer) *Facade {
	return &Facade{deps: deps, idx: idx, cfg: deps.Planner}
}

// Run executes one planning session to termination. The returned
// FinalResponse always has a non-empty message.
func (f *Facade) Run(ctx context.Context, input planner.UserInput) planner.FinalResponse {
	if strings.TrimSpace(input.Message) == "" {
		return planner.FinalResponse{Message: "I need a message to work with."}
	}

	sessionID := uuid.NewString()
	started := time.Now()
	log := slog.With("session_id", sessionID)

	ctx, cancel := context.WithTimeout(ctx, time.Duration(f.cfg.SessionTimeout)*time.Second)
	defer cancel()

	b := planner.NewBlackboard()
	b.Add(input)

	p := planner.New(planner.NewActionSet(f.deps), f.cfg.MaxIterations)
	p.Instrument(f.deps.Metrics)

	response, err := p.Run(ctx, b)
	if err != nil {
		log.Warn("session ended without reaching a goal",
			"error", err, "duration", time.Since(started))
		f.deps.Metrics.RecordSession(ctx, time.Since(started), "failure")
		return f.failureResponse(b, err)
	}

	outcome := "conversational"
	if response.CodeProposal != nil {
		outcome = "proposal"
	}
	f.deps.Metrics.RecordSession(ctx, time.Since(started), outcome)

	log.Info("session completed",
		"duration", time.Since(started),
		"outcome", outcome)
	return response
}

// OnDeployed tells the code index about files the caller just persisted.
func (f *Facade) OnDeployed(ctx context.Context, files []index.DeployedFile) error {
	if f.idx == nil {
		return nil
	}
	return f.idx.OnDeployed(ctx, files)
}

// failureResponse synthesizes a user-facing failure, naming the attempt count
// and last validation errors when a repair loop was underway.
func (f *Facade) failureResponse(b *planner.Blackboard, err error) planner.FinalResponse {
	validated, hasValidated := planner.LastOf[planner.ValidatedCode](b)
	failures := planner.AllOf[planner.ValidationFailure](b)

	var msg strings.Builder
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		msg.WriteString("I ran out of time working on this request.")
	case errors.Is(err, context.Canceled):
		msg.WriteString("The request was cancelled before I could finish.")
	case errors.Is(err, planner.ErrNoPlanApplicable):
		msg.WriteString("I could not work out a way to handle this request.")
	default:
		msg.WriteString("Something went wrong while handling this request.")
	}

	if hasValidated {
		fmt.Fprintf(&msg, " I made %d attempts.", validated.Attempt)
	}
	if len(failures) > 0 {
		msg.WriteString(" Last validation errors:")
		for _, failure := range failures {
			for _, e := range failure.Errors {
				fmt.Fprintf(&msg, "\n- %s: %s", failure.File.Filename, e)
			}
		}
	}

	return planner.FinalResponse{Message: msg.String()}
}
