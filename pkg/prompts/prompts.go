package prompts

import (
	"embed"
	"fmt"
	"strings"
	"sync"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Template names. Each maps to templates/<name>.tmpl in the bundle.
const (
	IntentClassify      = "intent_classify"
	ExtractRequirements = "extract_requirements"
	GenerateCode        = "generate_code"
	ExtractLibrary      = "extract_library"
	FixCode             = "fix_code"
	AnswerQuestion      = "answer_question"
	SystemGeneration    = "system_generation"
	SystemConversation  = "system_conversation"
)

var (
	cacheMu sync.RWMutex
	cache   = map[string]string{}
)

// Render loads a named template from the bundle and substitutes every
// {{key}} placeholder with vars[key]. Placeholders without a matching key are
// left in place so broken call sites show up in the rendered prompt.
func Render(name string, vars map[string]string) (string, error) {
	tmpl, err := load(name)
	if err != nil {
		return "", err
	}

	out := tmpl
	for key, value := range vars {
		out = strings.ReplaceAll(out, "{{"+key+"}}", value)
	}
	return out, nil
}

func load(name string) (string, error) {
	cacheMu.RLock()
	tmpl, ok := cache[name]
	cacheMu.RUnlock()
	if ok {
		return tmpl, nil
	}

	data, err := templateFS.ReadFile("templates/" + name + ".tmpl")
	if err != nil {
		return "", fmt.Errorf("unknown prompt template %q: %w", name, err)
	}

	cacheMu.Lock()
	cache[name] = string(data)
	cacheMu.Unlock()
	return string(data), nil
}

// FormatHistory renders a conversation history for prompt inclusion. Empty
// history renders as "(none)".
func FormatHistory(turns []Turn) string {
	if len(turns) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Turn is one prior conversation message.
type Turn struct {
	Role    string
	Content string
}
