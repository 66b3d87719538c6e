package planner

import (
	"github.com/nestor-home/nestor/pkg/engine"
	"github.com/nestor-home/nestor/pkg/vector"
)

// IntentType classifies what the user wants.
type IntentType string

const (
	IntentAutomationRequest IntentType = "automation_request"
	IntentQuestion          IntentType = "question"
	IntentChat              IntentType = "chat"
	IntentUnknown           IntentType = "unknown"
)

// HistoryTurn is one prior message in the conversation.
type HistoryTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UserInput seeds the blackboard for one session.
type UserInput struct {
	Message string
	History []HistoryTurn
}

// ParsedIntent is the classified user intent. Produced once per session.
type ParsedIntent struct {
	Type        IntentType
	Description string
	Confidence  float64
	Entities    map[string]string
}

// AutomationRequirements is the structured restatement of an automation
// request. Invariant: Triggers non-empty or NeedsSchedule true.
type AutomationRequirements struct {
	Description       string
	Triggers          []string
	Actions           []string
	Conditions        []string
	SuggestedName     string
	NeedsSchedule     bool
	Schedule          string
	GlobalStateWrites []string
}

// GatheredContext merges the parallel context-gathering results.
type GatheredContext struct {
	AvailableTopics    []string
	RelevantTopics     []string
	SimilarCode        []vector.CodeSearchResult
	AvailableLibraries []engine.LibraryModule
}

// FileKind distinguishes automation scripts from library modules.
type FileKind string

const (
	FileKindAutomation FileKind = "automation"
	FileKindLibrary    FileKind = "library"
)

// FileProposal is one generated file awaiting validation and deployment.
type FileProposal struct {
	Code     string   `json:"code"`
	Filename string   `json:"filename"`
	Kind     FileKind `json:"kind"`
}

// GeneratedCode is the raw generation output. Attempt starts at 1.
type GeneratedCode struct {
	Files   []FileProposal
	Summary string
	Attempt int
}

// ExtractedCode is generated code after the library-extraction step. The
// distinct type forces extraction to happen before validation.
type ExtractedCode struct {
	Files   []FileProposal
	Summary string
	Attempt int

	ExtractionPerformed bool
	ExtractionSummary   string
}

// ValidatedCode marks code that has been through a validation round-trip,
// successful or not. The distinct type forces validation before responding.
type ValidatedCode struct {
	Files   []FileProposal
	Summary string
	Attempt int
}

// ValidationFailure records the engine's errors for one file. Several may
// coexist on the blackboard for one attempt.
type ValidationFailure struct {
	File   FileProposal
	Errors []string
}

// ConversationalAnswer is the terminal output of the question/chat branch.
type ConversationalAnswer struct {
	Answer string
}

// CodeProposal is the deployable part of a successful session.
type CodeProposal struct {
	Summary string
	Files   []FileProposal
}

// FinalResponse is the session result. CodeProposal is nil for conversational
// and failure outcomes.
type FinalResponse struct {
	Message      string
	CodeProposal *CodeProposal
}
