package gateway

import "fmt"

// ParseError reports that an LLM response could not be parsed into the
// requested structured type, even after best-effort JSON extraction.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	raw := e.Raw
	if len(raw) > 200 {
		raw = raw[:200] + "..."
	}
	if e.Err != nil {
		return fmt.Sprintf("failed to parse LLM response as JSON: %v (response: %q)", e.Err, raw)
	}
	return fmt.Sprintf("failed to parse LLM response as JSON (response: %q)", raw)
}

func (e *ParseError) Unwrap() error { return e.Err }
