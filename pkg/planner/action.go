package planner

import (
	"context"
	"reflect"
)

// Action is one unit of planning work. Eligibility requires every input type
// to be present on the blackboard and every precondition to hold; unless
// CanRerun is set an action runs at most once per session.
type Action struct {
	Name string

	// Inputs are the fact types the action reads. All must be present.
	Inputs []reflect.Type

	// Preconditions gate eligibility beyond input presence.
	Preconditions []Condition

	// Postconditions are the conditions this action is declared to affect.
	// The planner re-evaluates them empirically after each run; the
	// declaration exists for plan introspection and logging.
	Postconditions []Condition

	// CanRerun allows repeated execution. Only the validate/fix cycle uses
	// this; everything else is one-shot.
	CanRerun bool

	// Goal marks a terminal action: on success the planner stops and the
	// FinalResponse it wrote becomes the session result.
	Goal bool

	// Run reads its inputs from the blackboard and writes its outputs back.
	Run func(ctx context.Context, b *Blackboard) error
}

func (a *Action) eligible(b *Blackboard, ran map[string]bool) bool {
	if ran[a.Name] && !a.CanRerun {
		return false
	}
	for _, t := range a.Inputs {
		if !b.HasType(t) {
			return false
		}
	}
	for _, cond := range a.Preconditions {
		if !cond.Holds(b) {
			return false
		}
	}
	return true
}
