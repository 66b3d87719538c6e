package session

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestor-home/nestor/pkg/config"
	"github.com/nestor-home/nestor/pkg/engine"
	"github.com/nestor-home/nestor/pkg/gateway"
	"github.com/nestor-home/nestor/pkg/index"
	"github.com/nestor-home/nestor/pkg/planner"
	"github.com/nestor-home/nestor/pkg/tools"
	"github.com/nestor-home/nestor/pkg/vector"
)

// scriptedGateway answers by prompt substring, like the planner tests do.
type scriptedGateway struct {
	answers map[string]string
	err     error
}

func (g *scriptedGateway) Invoke(_ context.Context, prompt string, _ gateway.Options) (string, error) {
	return g.respond(prompt)
}

func (g *scriptedGateway) InvokeJSON(_ context.Context, prompt string, _ gateway.Options) (string, error) {
	return g.respond(prompt)
}

func (g *scriptedGateway) respond(prompt string) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	for marker, answer := range g.answers {
		if strings.Contains(prompt, marker) {
			return answer, nil
		}
	}
	return "", errors.New("unexpected prompt")
}

type stubEngine struct{}

func (stubEngine) Topics(context.Context) ([]string, error) { return nil, nil }

func (stubEngine) Libraries(context.Context) ([]engine.LibraryModule, error) { return nil, nil }

func (stubEngine) Validate(context.Context, string, engine.CodeType) engine.ValidationResult {
	return engine.ValidationResult{Valid: true}
}

type stubIndex struct {
	deployed [][]index.DeployedFile
}

func (s *stubIndex) Search(context.Context, string, int) ([]vector.CodeSearchResult, error) {
	return nil, nil
}

func (s *stubIndex) Ready() bool { return false }

func (s *stubIndex) OnDeployed(_ context.Context, files []index.DeployedFile) error {
	s.deployed = append(s.deployed, files)
	return nil
}

type emptyTools struct{}

func (emptyTools) Names() []string { return nil }

func (emptyTools) Get(string) (tools.Tool, bool) { return nil, false }

func newFacade(g planner.LLMGateway) (*Facade, *stubIndex) {
	llmCfg := &config.LLMConfig{APIKey: "test"}
	llmCfg.SetDefaults()
	plannerCfg := &config.PlannerConfig{}
	plannerCfg.SetDefaults()

	idx := &stubIndex{}
	deps := planner.Deps{
		Gateway: g,
		Engine:  stubEngine{},
		Index:   idx,
		Tools:   emptyTools{},
		LLM:     llmCfg,
		Planner: plannerCfg,
	}
	return NewFacade(deps, idx), idx
}

func TestRunRejectsEmptyMessage(t *testing.T) {
	facade, _ := newFacade(&scriptedGateway{})

	response := facade.Run(context.Background(), planner.UserInput{Message: "   "})
	assert.Equal(t, "I need a message to work with.", response.Message)
	assert.Nil(t, response.CodeProposal)
}

func TestRunConversationalSession(t *testing.T) {
	g := &scriptedGateway{answers: map[string]string{
		"Classify the intent": `{"type":"question","description":"asks about lights","confidence":0.9}`,
		"Answer the user":     "You have two lights.",
	}}
	facade, _ := newFacade(g)

	response := facade.Run(context.Background(), planner.UserInput{Message: "what lights do I have?"})
	assert.Equal(t, "You have two lights.", response.Message)
	assert.Nil(t, response.CodeProposal)
}

func TestRunMapsFailureToResponse(t *testing.T) {
	// A gateway that always fails leaves the planner with no applicable
	// action; the facade must still answer with a message.
	facade, _ := newFacade(&scriptedGateway{err: errors.New("provider down")})

	response := facade.Run(context.Background(), planner.UserInput{Message: "turn on the light"})
	require.NotEmpty(t, response.Message)
	assert.Contains(t, response.Message, "could not work out a way")
	assert.Nil(t, response.CodeProposal)
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	facade, _ := newFacade(&scriptedGateway{})
	response := facade.Run(ctx, planner.UserInput{Message: "hello"})
	assert.Contains(t, response.Message, "cancelled")
}

func TestOnDeployedForwards(t *testing.T) {
	facade, idx := newFacade(&scriptedGateway{})

	files := []index.DeployedFile{{Filename: "a.star", Kind: vector.KindAutomation, Source: "code"}}
	require.NoError(t, facade.OnDeployed(context.Background(), files))
	require.Len(t, idx.deployed, 1)
	assert.Equal(t, files, idx.deployed[0])
}

func TestOnDeployedWithoutDeployer(t *testing.T) {
	llmCfg := &config.LLMConfig{APIKey: "test"}
	llmCfg.SetDefaults()
	plannerCfg := &config.PlannerConfig{}
	plannerCfg.SetDefaults()

	facade := NewFacade(planner.Deps{
		Gateway: &scriptedGateway{},
		Engine:  stubEngine{},
		Index:   &stubIndex{},
		Tools:   emptyTools{},
		LLM:     llmCfg,
		Planner: plannerCfg,
	}, nil)

	assert.NoError(t, facade.OnDeployed(context.Background(), nil))
}
