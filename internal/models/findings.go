package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// FindingsKind discriminates the Findings union.
type FindingsKind int

const (
	// FindingsEmpty means no payload was produced.
	FindingsEmpty FindingsKind = iota
	// FindingsText holds unstructured text, e.g. a reply that was not valid JSON.
	FindingsText
	// FindingsObject holds a decoded JSON object.
	FindingsObject
)

func (k FindingsKind) String() string {
	switch k {
	case FindingsText:
		return "text"
	case FindingsObject:
		return "object"
	default:
		return "empty"
	}
}

// rawResponseKey is the wire key used for the text variant.
const rawResponseKey = "rawResponse"

// Findings is the payload of a StepResult. Exactly one of Text or Fields is
// meaningful, selected by Kind.
type Findings struct {
	Kind   FindingsKind
	Text   string
	Fields map[string]any
}

// TextFindings wraps an unparsed reply.
func TextFindings(s string) Findings {
	return Findings{Kind: FindingsText, Text: s}
}

// ObjectFindings wraps a decoded object. A nil map yields an empty object.
func ObjectFindings(fields map[string]any) Findings {
	if fields == nil {
		fields = map[string]any{}
	}
	return Findings{Kind: FindingsObject, Fields: fields}
}

// FindingsFromValue maps an arbitrary decoded JSON value onto the union.
// Strings become text, objects stay objects, and any other value is boxed
// under a "value" key.
func FindingsFromValue(v any) Findings {
	switch t := v.(type) {
	case nil:
		return ObjectFindings(nil)
	case map[string]any:
		return ObjectFindings(t)
	case string:
		return TextFindings(t)
	default:
		return ObjectFindings(map[string]any{"value": t})
	}
}

// Summary returns the "summary" field of an object payload, if present.
func (f Findings) Summary() (string, bool) {
	if f.Kind != FindingsObject {
		return "", false
	}
	s, ok := f.Fields["summary"].(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

// Render produces a human-readable rendering used in prompts and knowledge
// entries.
func (f Findings) Render() string {
	switch f.Kind {
	case FindingsText:
		return f.Text
	case FindingsObject:
		if len(f.Fields) == 0 {
			return "{}"
		}
		// encoding/json sorts map keys, so the rendering is deterministic.
		b, err := json.Marshal(f.Fields)
		if err != nil {
			return fmt.Sprintf("%v", f.Fields)
		}
		return string(b)
	default:
		return ""
	}
}

// MarshalJSON encodes the text variant as {"rawResponse": text}.
func (f Findings) MarshalJSON() ([]byte, error) {
	switch f.Kind {
	case FindingsText:
		return json.Marshal(map[string]string{rawResponseKey: f.Text})
	case FindingsObject:
		return json.Marshal(f.Fields)
	default:
		return []byte("{}"), nil
	}
}

// UnmarshalJSON reverses MarshalJSON.
func (f *Findings) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = Findings{}
		return nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("decode findings: %w", err)
	}
	if obj, ok := v.(map[string]any); ok && len(obj) == 1 {
		if s, ok := obj[rawResponseKey].(string); ok {
			*f = TextFindings(s)
			return nil
		}
	}
	*f = FindingsFromValue(v)
	return nil
}
