package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestor-home/nestor/pkg/engine"
	"github.com/nestor-home/nestor/pkg/vector"
)

type fakeEngine struct {
	topics      []string
	automations []engine.Automation
	libraries   []engine.LibraryModule
	sources     map[string]string
	schema      map[string][]string
	err         error
}

func (f *fakeEngine) Topics(context.Context) ([]string, error) {
	return f.topics, f.err
}

func (f *fakeEngine) Automations(context.Context) ([]engine.Automation, error) {
	return f.automations, f.err
}

func (f *fakeEngine) Libraries(context.Context) ([]engine.LibraryModule, error) {
	return f.libraries, f.err
}

func (f *fakeEngine) LibrarySource(_ context.Context, name string) (string, error) {
	return f.sources[name], f.err
}

func (f *fakeEngine) GlobalStateSchema(context.Context) (map[string][]string, error) {
	return f.schema, f.err
}

type fakeSearcher struct {
	ready   bool
	results []vector.CodeSearchResult
	err     error
	queries []string
	topKs   []int
}

func (f *fakeSearcher) Search(_ context.Context, query string, topK int) ([]vector.CodeSearchResult, error) {
	f.queries = append(f.queries, query)
	f.topKs = append(f.topKs, topK)
	return f.results, f.err
}

func (f *fakeSearcher) Ready() bool { return f.ready }

func newTestCatalog(t *testing.T, eng EngineReader, searcher CodeSearcher) *Catalog {
	t.Helper()
	c, err := NewCatalog(eng, searcher, 5)
	require.NoError(t, err)
	return c
}

func TestCatalogNames(t *testing.T) {
	c := newTestCatalog(t, &fakeEngine{}, &fakeSearcher{})

	assert.ElementsMatch(t, []string{
		"getAllTopics",
		"searchTopics",
		"getAutomations",
		"getLibraryModules",
		"getLibraryCode",
		"getGlobalStateSchema",
		"searchSimilarCode",
	}, c.Names())
}

func TestCatalogDefinitionsStableOrder(t *testing.T) {
	c := newTestCatalog(t, &fakeEngine{}, &fakeSearcher{})

	defs := c.Definitions()
	require.Len(t, defs, 7)
	for i := 1; i < len(defs); i++ {
		assert.Less(t, defs[i-1].Name, defs[i].Name)
	}
}

func TestCatalogRejectsUnknownTool(t *testing.T) {
	c := newTestCatalog(t, &fakeEngine{}, &fakeSearcher{})

	_, err := c.Execute(context.Background(), "deployAutomation", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deployAutomation")
}

func TestGetAllTopics(t *testing.T) {
	eng := &fakeEngine{topics: []string{"zigbee2mqtt/kitchen_light"}}
	c := newTestCatalog(t, eng, &fakeSearcher{})

	result, err := c.Execute(context.Background(), "getAllTopics", nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.JSONEq(t, `["zigbee2mqtt/kitchen_light"]`, result.Content)
}

func TestSearchTopics(t *testing.T) {
	eng := &fakeEngine{topics: []string{
		"zigbee2mqtt/kitchen_light",
		"zigbee2mqtt/motion_sensor",
		"zigbee2mqtt/Kitchen_Heater",
	}}
	c := newTestCatalog(t, eng, &fakeSearcher{})

	result, err := c.Execute(context.Background(), "searchTopics", map[string]interface{}{
		"pattern": "kitchen",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `["zigbee2mqtt/kitchen_light","zigbee2mqtt/Kitchen_Heater"]`, result.Content)
}

func TestSearchTopicsRequiresPattern(t *testing.T) {
	c := newTestCatalog(t, &fakeEngine{}, &fakeSearcher{})

	result, err := c.Execute(context.Background(), "searchTopics", map[string]interface{}{})
	require.Error(t, err)
	assert.False(t, result.Success)
}

func TestGetAutomations(t *testing.T) {
	eng := &fakeEngine{automations: []engine.Automation{
		{Name: "night_lights", Enabled: true},
	}}
	c := newTestCatalog(t, eng, &fakeSearcher{})

	result, err := c.Execute(context.Background(), "getAutomations", nil)
	require.NoError(t, err)

	var got []engine.Automation
	require.NoError(t, json.Unmarshal([]byte(result.Content), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "night_lights", got[0].Name)
}

func TestGetLibraryCode(t *testing.T) {
	eng := &fakeEngine{sources: map[string]string{"lights": "export function dim() {}"}}
	c := newTestCatalog(t, eng, &fakeSearcher{})

	result, err := c.Execute(context.Background(), "getLibraryCode", map[string]interface{}{
		"moduleName": "lights",
	})
	require.NoError(t, err)
	assert.Equal(t, "export function dim() {}", result.Content)
}

func TestGetLibraryCodeMissingModule(t *testing.T) {
	eng := &fakeEngine{sources: map[string]string{}}
	c := newTestCatalog(t, eng, &fakeSearcher{})

	result, err := c.Execute(context.Background(), "getLibraryCode", map[string]interface{}{
		"moduleName": "nope",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, result.Content, "not found")
}

func TestGetGlobalStateSchema(t *testing.T) {
	eng := &fakeEngine{schema: map[string][]string{"house.mode": {"night_lights"}}}
	c := newTestCatalog(t, eng, &fakeSearcher{})

	result, err := c.Execute(context.Background(), "getGlobalStateSchema", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"house.mode":["night_lights"]}`, result.Content)
}

func TestToolErrorPropagates(t *testing.T) {
	eng := &fakeEngine{err: errors.New("engine down")}
	c := newTestCatalog(t, eng, &fakeSearcher{})

	result, err := c.Execute(context.Background(), "getAllTopics", nil)
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "engine down")
}

func TestSearchSimilarCode(t *testing.T) {
	searcher := &fakeSearcher{
		ready: true,
		results: []vector.CodeSearchResult{
			{
				Kind: vector.KindAutomation, Name: "night_lights",
				SourceCode: "code", Similarity: 0.93,
			},
		},
	}
	c := newTestCatalog(t, &fakeEngine{}, searcher)

	result, err := c.Execute(context.Background(), "searchSimilarCode", map[string]interface{}{
		"query": "lights at sunset",
		"topK":  float64(3),
	})
	require.NoError(t, err)
	assert.Equal(t, []int{3}, searcher.topKs)

	var hits []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(result.Content), &hits))
	require.Len(t, hits, 1)
	assert.Equal(t, "night_lights", hits[0]["name"])
	assert.Equal(t, "automation", hits[0]["kind"])
}

func TestSearchSimilarCodeDefaultsTopK(t *testing.T) {
	searcher := &fakeSearcher{ready: true}
	c := newTestCatalog(t, &fakeEngine{}, searcher)

	_, err := c.Execute(context.Background(), "searchSimilarCode", map[string]interface{}{
		"query": "anything",
	})
	require.NoError(t, err)
	assert.Equal(t, []int{5}, searcher.topKs)
}

func TestSearchSimilarCodeNotReady(t *testing.T) {
	searcher := &fakeSearcher{ready: false}
	c := newTestCatalog(t, &fakeEngine{}, searcher)

	result, err := c.Execute(context.Background(), "searchSimilarCode", map[string]interface{}{
		"query": "anything",
	})
	require.NoError(t, err)
	assert.Equal(t, "[]", result.Content)
	assert.Empty(t, searcher.queries)
}

func TestDefinitionSchema(t *testing.T) {
	def := Definition(ToolInfo{
		Name:        "searchTopics",
		Description: "desc",
		Parameters: []ToolParameter{
			{Name: "pattern", Type: "string", Description: "substring", Required: true},
			{Name: "limit", Type: "integer", Description: "cap", Default: 10},
		},
	})

	assert.Equal(t, "searchTopics", def.Name)
	props := def.Parameters["properties"].(map[string]interface{})
	assert.Contains(t, props, "pattern")
	assert.Contains(t, props, "limit")
	assert.Equal(t, []string{"pattern"}, def.Parameters["required"])
	assert.Equal(t, 10, props["limit"].(map[string]interface{})["default"])
}
