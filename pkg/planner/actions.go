package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nestor-home/nestor/pkg/config"
	"github.com/nestor-home/nestor/pkg/engine"
	"github.com/nestor-home/nestor/pkg/gateway"
	"github.com/nestor-home/nestor/pkg/observability"
	"github.com/nestor-home/nestor/pkg/prompts"
	"github.com/nestor-home/nestor/pkg/tools"
	"github.com/nestor-home/nestor/pkg/vector"
)

// LLMGateway is the slice of the gateway the actions use.
type LLMGateway interface {
	Invoke(ctx context.Context, prompt string, opts gateway.Options) (string, error)
	InvokeJSON(ctx context.Context, prompt string, opts gateway.Options) (string, error)
}

// EngineClient is the slice of the engine adapter the actions use.
type EngineClient interface {
	Topics(ctx context.Context) ([]string, error)
	Libraries(ctx context.Context) ([]engine.LibraryModule, error)
	Validate(ctx context.Context, code string, codeType engine.CodeType) engine.ValidationResult
}

// CodeSearcher is the slice of the code index the actions use.
type CodeSearcher interface {
	Search(ctx context.Context, query string, topK int) ([]vector.CodeSearchResult, error)
	Ready() bool
}

// ToolSource hands out the allow-listed tools for conversational answers.
type ToolSource interface {
	Names() []string
	Get(name string) (tools.Tool, bool)
}

// Deps carries the collaborators of the fixed action set.
type Deps struct {
	Gateway LLMGateway
	Engine  EngineClient
	Index   CodeSearcher
	Tools   ToolSource
	LLM     *config.LLMConfig
	Planner *config.PlannerConfig

	// Metrics is optional; a nil value records nothing.
	Metrics *observability.Metrics
}

// NewActionSet builds the fixed action set in non-goal priority order:
// fixInvalidCode > validateCode > extractToLibrary > generateCode >
// gatherContext > extractRequirements > parseIntent > answerQuestion.
// Goal actions follow; the planner prefers them whenever one is eligible.
func NewActionSet(d Deps) []*Action {
	valid := codeIsValid()
	invalid := codeIsInvalid()
	retry := canStillRetry(d.Planner.MaxFixAttempts)
	exhausted := maxRetriesExhausted(d.Planner.MaxFixAttempts)
	automation := isAutomationRequest()
	conversational := isQuestionOrChat()

	return []*Action{
		{
			Name:           "fixInvalidCode",
			Inputs:         []reflect.Type{typeOf[ValidatedCode]()},
			Preconditions:  []Condition{invalid, retry},
			Postconditions: []Condition{valid, invalid},
			CanRerun:       true,
			Run:            d.fixInvalidCode,
		},
		{
			Name:           "validateCode",
			Inputs:         []reflect.Type{typeOf[ExtractedCode]()},
			Postconditions: []Condition{valid, invalid},
			CanRerun:       true,
			Run:            d.validateCode,
		},
		{
			Name:   "extractToLibrary",
			Inputs: []reflect.Type{typeOf[GeneratedCode]()},
			Run:    d.extractToLibrary,
		},
		{
			Name:   "generateCode",
			Inputs: []reflect.Type{typeOf[UserInput](), typeOf[AutomationRequirements](), typeOf[GatheredContext]()},
			Run:    d.generateCode,
		},
		{
			Name:   "gatherContext",
			Inputs: []reflect.Type{typeOf[AutomationRequirements]()},
			Run:    d.gatherContext,
		},
		{
			Name:   "extractRequirements",
			Inputs: []reflect.Type{typeOf[UserInput](), typeOf[ParsedIntent]()},
			Run:    d.extractRequirements,
		},
		{
			Name:   "parseIntent",
			Inputs: []reflect.Type{typeOf[UserInput]()},
			Run:    d.parseIntent,
		},
		{
			Name:          "answerQuestion",
			Inputs:        []reflect.Type{typeOf[UserInput](), typeOf[ParsedIntent]()},
			Preconditions: []Condition{conversational},
			Run:           d.answerQuestion,
		},
		{
			Name:          "respondWithAutomation",
			Inputs:        []reflect.Type{typeOf[ValidatedCode]()},
			Preconditions: []Condition{valid, automation},
			Goal:          true,
			Run:           d.respondWithAutomation,
		},
		{
			Name:          "respondWithFailure",
			Inputs:        []reflect.Type{typeOf[ValidatedCode]()},
			Preconditions: []Condition{exhausted, automation},
			Goal:          true,
			Run:           d.respondWithFailure,
		},
		{
			Name:          "respondConversationally",
			Inputs:        []reflect.Type{typeOf[ConversationalAnswer]()},
			Preconditions: []Condition{conversational},
			Goal:          true,
			Run:           d.respondConversationally,
		},
	}
}

type intentResponse struct {
	Type        string            `json:"type"`
	Description string            `json:"description"`
	Confidence  float64           `json:"confidence"`
	Entities    map[string]string `json:"entities"`
}

func (d Deps) parseIntent(ctx context.Context, b *Blackboard) error {
	input, _ := FirstOf[UserInput](b)

	prompt, err := prompts.Render(prompts.IntentClassify, map[string]string{
		"message": input.Message,
		"history": formatHistory(input.History),
	})
	if err != nil {
		return err
	}

	raw, err := d.Gateway.InvokeJSON(ctx, prompt, gateway.Options{Model: gateway.ModelClassification})
	if err != nil {
		return fmt.Errorf("intent classification failed: %w", err)
	}

	var resp intentResponse
	if err := gateway.DecodeJSON(raw, &resp); err != nil {
		return err
	}

	intent := ParsedIntent{
		Type:        IntentUnknown,
		Description: resp.Description,
		Confidence:  clamp01(resp.Confidence),
		Entities:    resp.Entities,
	}
	switch IntentType(resp.Type) {
	case IntentAutomationRequest, IntentQuestion, IntentChat:
		intent.Type = IntentType(resp.Type)
	}

	slog.Debug("intent parsed", "type", intent.Type, "confidence", intent.Confidence)
	b.Add(intent)
	return nil
}

type requirementsResponse struct {
	Description       string   `json:"description"`
	Triggers          []string `json:"triggers"`
	Actions           []string `json:"actions"`
	Conditions        []string `json:"conditions"`
	SuggestedName     string   `json:"suggestedName"`
	NeedsSchedule     bool     `json:"needsSchedule"`
	Schedule          string   `json:"schedule"`
	GlobalStateWrites []string `json:"globalStateWrites"`
}

// extractRequirements produces nothing for non-automation intents so the
// conversational branch is never blocked on it.
func (d Deps) extractRequirements(ctx context.Context, b *Blackboard) error {
	intent, _ := FirstOf[ParsedIntent](b)
	if intent.Type != IntentAutomationRequest {
		return nil
	}

	input, _ := FirstOf[UserInput](b)
	prompt, err := prompts.Render(prompts.ExtractRequirements, map[string]string{
		"message": input.Message,
		"history": formatHistory(input.History),
	})
	if err != nil {
		return err
	}

	raw, err := d.Gateway.InvokeJSON(ctx, prompt, gateway.Options{Model: gateway.ModelClassification})
	if err != nil {
		return fmt.Errorf("requirements extraction failed: %w", err)
	}

	var resp requirementsResponse
	if err := gateway.DecodeJSON(raw, &resp); err != nil {
		return err
	}
	if len(resp.Actions) == 0 {
		return fmt.Errorf("requirements extraction produced no actions")
	}
	if len(resp.Triggers) == 0 && !resp.NeedsSchedule {
		return fmt.Errorf("automation needs at least one trigger or a schedule")
	}

	b.Add(AutomationRequirements{
		Description:       resp.Description,
		Triggers:          resp.Triggers,
		Actions:           resp.Actions,
		Conditions:        resp.Conditions,
		SuggestedName:     resp.SuggestedName,
		NeedsSchedule:     resp.NeedsSchedule,
		Schedule:          resp.Schedule,
		GlobalStateWrites: resp.GlobalStateWrites,
	})
	return nil
}

// gatherContext fans out the context lookups under MaxConcurrency workers and
// a shared deadline. Subtask failures degrade to empty results; the merged
// fact is always produced.
func (d Deps) gatherContext(ctx context.Context, b *Blackboard) error {
	reqs, _ := FirstOf[AutomationRequirements](b)

	ctx, cancel := context.WithTimeout(ctx, time.Duration(d.Planner.ContextGatheringTimeout)*time.Second)
	defer cancel()

	var (
		topics    []string
		similar   []vector.CodeSearchResult
		libraries []engine.LibraryModule
	)

	g := new(errgroup.Group)
	g.SetLimit(d.Planner.MaxConcurrency)

	run := func(name string, task func() error) {
		g.Go(func() error {
			if err := task(); err != nil {
				slog.Warn("context subtask failed, continuing without it", "subtask", name, "error", err)
			}
			// Subtask failures never abort the group.
			return nil
		})
	}

	run("topics", func() error {
		var err error
		topics, err = d.Engine.Topics(ctx)
		return err
	})
	run("similar code", func() error {
		var err error
		similar, err = d.Index.Search(ctx, reqs.Description, d.Planner.SimilarCodeTopK)
		return err
	})
	run("libraries", func() error {
		var err error
		libraries, err = d.Engine.Libraries(ctx)
		return err
	})
	_ = g.Wait()

	b.Add(GatheredContext{
		AvailableTopics:    topics,
		RelevantTopics:     filterTopics(topics, reqs),
		SimilarCode:        similar,
		AvailableLibraries: libraries,
	})
	return nil
}

type codeResponse struct {
	Files   []FileProposal `json:"files"`
	Summary string         `json:"summary"`
}

func (d Deps) generateCode(ctx context.Context, b *Blackboard) error {
	input, _ := FirstOf[UserInput](b)
	reqs, _ := FirstOf[AutomationRequirements](b)
	gathered, _ := FirstOf[GatheredContext](b)

	name := reqs.SuggestedName
	if name == "" {
		name = "automation"
	}

	prompt, err := prompts.Render(prompts.GenerateCode, map[string]string{
		"message":        input.Message,
		"requirements":   mustJSON(reqs),
		"relevantTopics": formatTopics(gathered),
		"libraries":      formatLibraries(gathered.AvailableLibraries),
		"similarCode":    formatSimilarCode(gathered.SimilarCode),
		"suggestedName":  name,
	})
	if err != nil {
		return err
	}

	system, err := prompts.Render(prompts.SystemGeneration, nil)
	if err != nil {
		return err
	}

	raw, err := d.Gateway.InvokeJSON(ctx, prompt, gateway.Options{
		Model:        gateway.ModelGeneration,
		Temperature:  d.LLM.GenerationTemperature,
		SystemPrompt: system,
	})
	if err != nil {
		return fmt.Errorf("code generation failed: %w", err)
	}

	var resp codeResponse
	if err := gateway.DecodeJSON(raw, &resp); err != nil {
		return err
	}
	files, err := normalizeFiles(resp.Files)
	if err != nil {
		return fmt.Errorf("generated code is unusable: %w", err)
	}

	b.Add(GeneratedCode{Files: files, Summary: resp.Summary, Attempt: 1})
	return nil
}

type extractionResponse struct {
	ExtractionPerformed bool           `json:"extractionPerformed"`
	ExtractionSummary   string         `json:"extractionSummary"`
	Files               []FileProposal `json:"files"`
}

// extractToLibrary asks the model whether reusable logic should move into a
// library module. Any failure or unusable answer degrades to passing the
// generated code through unchanged; extraction is an optional refinement, not
// a gate.
func (d Deps) extractToLibrary(ctx context.Context, b *Blackboard) error {
	generated, _ := FirstOf[GeneratedCode](b)
	gathered, _ := FirstOf[GatheredContext](b)

	passthrough := ExtractedCode{
		Files:   generated.Files,
		Summary: generated.Summary,
		Attempt: generated.Attempt,
	}

	prompt, err := prompts.Render(prompts.ExtractLibrary, map[string]string{
		"files":     mustJSON(generated.Files),
		"libraries": formatLibraries(gathered.AvailableLibraries),
	})
	if err != nil {
		return err
	}

	system, err := prompts.Render(prompts.SystemGeneration, nil)
	if err != nil {
		return err
	}

	raw, err := d.Gateway.InvokeJSON(ctx, prompt, gateway.Options{
		Model:        gateway.ModelGeneration,
		Temperature:  d.LLM.GenerationTemperature,
		SystemPrompt: system,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("library extraction failed, keeping generated code unchanged", "error", err)
		b.Add(passthrough)
		return nil
	}

	var resp extractionResponse
	if err := gateway.DecodeJSON(raw, &resp); err != nil {
		slog.Warn("library extraction response unparseable, keeping generated code unchanged", "error", err)
		b.Add(passthrough)
		return nil
	}

	files, err := normalizeFiles(resp.Files)
	if err != nil || !resp.ExtractionPerformed {
		b.Add(passthrough)
		return nil
	}

	b.Add(ExtractedCode{
		Files:               files,
		Summary:             generated.Summary,
		Attempt:             generated.Attempt,
		ExtractionPerformed: true,
		ExtractionSummary:   resp.ExtractionSummary,
	})
	return nil
}

// validateCode round-trips every file through the engine. One
// ValidationFailure per failing file lands on the blackboard; a ValidatedCode
// carrying the input attempt is always produced.
func (d Deps) validateCode(ctx context.Context, b *Blackboard) error {
	extracted, ok := LastOf[ExtractedCode](b)
	if !ok || len(extracted.Files) == 0 {
		return fmt.Errorf("validateCode requires extracted code with at least one file")
	}

	for _, file := range extracted.Files {
		result := d.Engine.Validate(ctx, file.Code, codeType(file.Kind))
		if err := ctx.Err(); err != nil {
			return err
		}
		d.Metrics.RecordValidationAttempt(ctx, result.Valid)
		if !result.Valid {
			slog.Debug("file failed validation", "filename", file.Filename, "errors", len(result.Errors))
			b.Add(ValidationFailure{File: file, Errors: result.Errors})
		}
	}

	b.Add(ValidatedCode{
		Files:   extracted.Files,
		Summary: extracted.Summary,
		Attempt: extracted.Attempt,
	})
	return nil
}

// fixInvalidCode feeds the current failures back to the model and replaces
// the extracted and validated facts with the repaired files at attempt+1.
// Prior failures are cleared so the next validation starts clean.
func (d Deps) fixInvalidCode(ctx context.Context, b *Blackboard) error {
	validated, _ := LastOf[ValidatedCode](b)
	extracted, _ := LastOf[ExtractedCode](b)
	failures := AllOf[ValidationFailure](b)

	prompt, err := prompts.Render(prompts.FixCode, map[string]string{
		"files":  mustJSON(validated.Files),
		"errors": formatFailures(failures),
	})
	if err != nil {
		return err
	}

	system, err := prompts.Render(prompts.SystemGeneration, nil)
	if err != nil {
		return err
	}

	raw, err := d.Gateway.InvokeJSON(ctx, prompt, gateway.Options{
		Model:        gateway.ModelGeneration,
		Temperature:  d.LLM.GenerationTemperature,
		SystemPrompt: system,
	})
	if err != nil {
		return fmt.Errorf("code repair failed: %w", err)
	}

	var resp codeResponse
	if err := gateway.DecodeJSON(raw, &resp); err != nil {
		return err
	}
	files, err := normalizeFiles(resp.Files)
	if err != nil {
		return fmt.Errorf("repaired code is unusable: %w", err)
	}

	nextAttempt := validated.Attempt + 1
	if !*d.Planner.CountTransportFailures && allTransportFailures(failures) {
		// The engine was unreachable, not the code wrong. Retry without
		// burning an attempt; the planner's iteration cap still bounds this.
		nextAttempt = validated.Attempt
	}

	summary := resp.Summary
	if summary == "" {
		summary = validated.Summary
	}

	RemoveAllOf[ValidationFailure](b)
	RemoveAllOf[ExtractedCode](b)
	RemoveAllOf[ValidatedCode](b)

	b.Add(ExtractedCode{
		Files:               files,
		Summary:             summary,
		Attempt:             nextAttempt,
		ExtractionPerformed: extracted.ExtractionPerformed,
		ExtractionSummary:   extracted.ExtractionSummary,
	})
	return nil
}

func (d Deps) answerQuestion(ctx context.Context, b *Blackboard) error {
	input, _ := FirstOf[UserInput](b)

	prompt, err := prompts.Render(prompts.AnswerQuestion, map[string]string{
		"message": input.Message,
		"history": formatHistory(input.History),
	})
	if err != nil {
		return err
	}

	system, err := prompts.Render(prompts.SystemConversation, nil)
	if err != nil {
		return err
	}

	answer, err := d.Gateway.Invoke(ctx, prompt, gateway.Options{
		Model:        gateway.ModelGeneration,
		Temperature:  d.LLM.ConversationTemperature,
		SystemPrompt: system,
		Tools:        allTools(d.Tools),
	})
	if err != nil {
		return fmt.Errorf("conversational answer failed: %w", err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return fmt.Errorf("conversational answer was empty")
	}

	b.Add(ConversationalAnswer{Answer: answer})
	return nil
}

func (d Deps) respondWithAutomation(ctx context.Context, b *Blackboard) error {
	validated, _ := LastOf[ValidatedCode](b)

	message := validated.Summary
	if message == "" {
		message = "Here is the automation I prepared. Review it and deploy when ready."
	}
	if extracted, ok := LastOf[ExtractedCode](b); ok && extracted.ExtractionPerformed && extracted.ExtractionSummary != "" {
		message += "\n\n" + extracted.ExtractionSummary
	}

	b.Add(FinalResponse{
		Message: message,
		CodeProposal: &CodeProposal{
			Summary: validated.Summary,
			Files:   validated.Files,
		},
	})
	return nil
}

func (d Deps) respondWithFailure(ctx context.Context, b *Blackboard) error {
	validated, _ := LastOf[ValidatedCode](b)
	failures := AllOf[ValidationFailure](b)

	var details string
	if len(failures) > 0 {
		details = "\n\nLast validation errors:\n" + formatFailures(failures)
	}

	b.Add(FinalResponse{
		Message: fmt.Sprintf(
			"I could not produce a valid automation after %d attempts.%s",
			validated.Attempt, details),
	})
	return nil
}

func (d Deps) respondConversationally(ctx context.Context, b *Blackboard) error {
	answer, _ := FirstOf[ConversationalAnswer](b)
	b.Add(FinalResponse{Message: answer.Answer})
	return nil
}

func codeType(kind FileKind) engine.CodeType {
	if kind == FileKindLibrary {
		return engine.CodeTypeLibrary
	}
	return engine.CodeTypeAutomation
}

// normalizeFiles rejects empty proposals and defaults unrecognized kinds to
// automation.
func normalizeFiles(files []FileProposal) ([]FileProposal, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no files proposed")
	}
	out := make([]FileProposal, 0, len(files))
	for _, f := range files {
		if strings.TrimSpace(f.Code) == "" {
			return nil, fmt.Errorf("file %q has empty code", f.Filename)
		}
		if strings.TrimSpace(f.Filename) == "" {
			return nil, fmt.Errorf("a proposed file has no filename")
		}
		if f.Kind != FileKindLibrary {
			f.Kind = FileKindAutomation
		}
		out = append(out, f)
	}
	return out, nil
}

func allTransportFailures(failures []ValidationFailure) bool {
	for _, f := range failures {
		for _, e := range f.Errors {
			if !strings.HasPrefix(e, "Validation request failed:") {
				return false
			}
		}
	}
	return len(failures) > 0
}

// filterTopics keeps topics mentioning any term from the triggers or the
// description. Trigger terms come from the segment after the last slash so a
// shared broker prefix like "zigbee2mqtt/" does not match everything; short
// words match too much to be useful.
func filterTopics(topics []string, reqs AutomationRequirements) []string {
	terms := map[string]struct{}{}
	addTerms := func(s string) {
		if i := strings.LastIndexByte(s, '/'); i >= 0 {
			s = s[i+1:]
		}
		for _, word := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
			return (r < 'a' || r > 'z') && (r < '0' || r > '9')
		}) {
			if len(word) >= 4 {
				terms[word] = struct{}{}
			}
		}
	}
	for _, t := range reqs.Triggers {
		addTerms(t)
	}
	addTerms(reqs.Description)

	var relevant []string
	for _, topic := range topics {
		lower := strings.ToLower(topic)
		for term := range terms {
			if strings.Contains(lower, term) {
				relevant = append(relevant, topic)
				break
			}
		}
	}
	return relevant
}

func formatHistory(turns []HistoryTurn) string {
	converted := make([]prompts.Turn, len(turns))
	for i, t := range turns {
		converted[i] = prompts.Turn{Role: t.Role, Content: t.Content}
	}
	return prompts.FormatHistory(converted)
}

func formatTopics(gathered GatheredContext) string {
	topics := gathered.RelevantTopics
	if len(topics) == 0 {
		topics = gathered.AvailableTopics
	}
	if len(topics) > 50 {
		topics = topics[:50]
	}
	if len(topics) == 0 {
		return "(none known)"
	}
	return strings.Join(topics, "\n")
}

func formatLibraries(libraries []engine.LibraryModule) string {
	if len(libraries) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, lib := range libraries {
		fmt.Fprintf(&b, "- %s: %s (functions: %s)\n",
			lib.Name, lib.Description, strings.Join(lib.Functions, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatSimilarCode(results []vector.CodeSearchResult) string {
	if len(results) == 0 {
		return "(none found)"
	}
	var b strings.Builder
	for _, r := range results {
		source := r.SourceCode
		if len(source) > 2000 {
			source = source[:2000] + "\n# ... truncated"
		}
		fmt.Fprintf(&b, "### %s (%s, similarity %.2f)\n%s\n\n", r.Name, r.Kind, r.Similarity, source)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatFailures(failures []ValidationFailure) string {
	var b strings.Builder
	for _, f := range failures {
		for _, e := range f.Errors {
			fmt.Fprintf(&b, "- %s: %s\n", f.File.Filename, e)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func allTools(source ToolSource) []tools.Tool {
	if source == nil {
		return nil
	}
	names := source.Names()
	out := make([]tools.Tool, 0, len(names))
	for _, name := range names {
		if tool, ok := source.Get(name); ok {
			out = append(out, tool)
		}
	}
	return out
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(data)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
