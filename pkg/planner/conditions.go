package planner

// Condition is a named pure predicate over the blackboard. The planner
// evaluates conditions empirically after every action run; they never cache.
type Condition struct {
	Name  string
	Holds func(b *Blackboard) bool
}

func isAutomationRequest() Condition {
	return Condition{
		Name: "isAutomationRequest",
		Holds: func(b *Blackboard) bool {
			intent, ok := FirstOf[ParsedIntent](b)
			return ok && intent.Type == IntentAutomationRequest
		},
	}
}

func isQuestionOrChat() Condition {
	return Condition{
		Name: "isQuestionOrChat",
		Holds: func(b *Blackboard) bool {
			intent, ok := FirstOf[ParsedIntent](b)
			return ok && intent.Type != IntentAutomationRequest
		},
	}
}

func codeIsValid() Condition {
	return Condition{
		Name: "codeIsValid",
		Holds: func(b *Blackboard) bool {
			_, ok := FirstOf[ValidatedCode](b)
			return ok && len(AllOf[ValidationFailure](b)) == 0
		},
	}
}

func codeIsInvalid() Condition {
	return Condition{
		Name: "codeIsInvalid",
		Holds: func(b *Blackboard) bool {
			return len(AllOf[ValidationFailure](b)) > 0
		},
	}
}

func canStillRetry(maxFixAttempts int) Condition {
	return Condition{
		Name: "canStillRetry",
		Holds: func(b *Blackboard) bool {
			validated, ok := LastOf[ValidatedCode](b)
			return ok && validated.Attempt < maxFixAttempts
		},
	}
}

func maxRetriesExhausted(maxFixAttempts int) Condition {
	return Condition{
		Name: "maxRetriesExhausted",
		Holds: func(b *Blackboard) bool {
			validated, ok := LastOf[ValidatedCode](b)
			return ok && validated.Attempt >= maxFixAttempts
		},
	}
}
