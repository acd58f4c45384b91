package extractor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Field is one string-valued property the model must return.
type Field struct {
	Name        string
	Description string
}

// Schema names the object shape expected back from the model.
type Schema struct {
	Name   string
	Fields []Field
}

// Result maps schema field names to their extracted values.
type Result map[string]string

// Absent is returned when an extraction fails. It is distinct from any
// successful Result, which always carries every schema field.
var Absent Result

func (r Result) Present() bool { return r != nil }

func (s Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// JSONSchema renders the schema as a JSON Schema object with properties in
// declaration order.
func (s Schema) JSONSchema() string {
	var b bytes.Buffer
	b.WriteString(`{"properties": {`)
	for i, f := range s.Fields {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, `%s: {"title": %s, "description": %s, "type": "string"}`,
			quote(f.Name), quote(title(f.Name)), quote(f.Description))
	}
	b.WriteString(`}, "required": [`)
	for i, f := range s.Fields {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quote(f.Name))
	}
	b.WriteString("]}")
	return b.String()
}

// FormatInstructions tells the model to reply with a single JSON object
// matching the schema.
func (s Schema) FormatInstructions() string {
	return `The output should be formatted as a JSON instance that conforms to the JSON schema below.

As an example, for the schema {"properties": {"foo": {"title": "Foo", "description": "a list of strings", "type": "array", "items": {"type": "string"}}}, "required": ["foo"]}
the object {"foo": ["bar", "baz"]} is a well-formatted instance of the schema. The object {"properties": {"foo": ["bar", "baz"]}} is not well-formatted.

Here is the output schema:
` + "```\n" + s.JSONSchema() + "\n```"
}

var errNoObject = errors.New("no JSON object in reply")

// Parse extracts the first JSON object from raw, tolerating surrounding prose
// and markdown fences, and projects it onto the schema. Every field must be
// present as a string, number or boolean; numbers keep their literal text.
// Keys outside the schema are dropped.
func (s Schema) Parse(raw string) (Result, error) {
	obj, err := firstObject(raw)
	if err != nil {
		return Absent, &Error{Kind: KindParse, Schema: s.Name, Err: err}
	}

	out := make(Result, len(s.Fields))
	var problems []string
	for _, f := range s.Fields {
		v, ok := obj[f.Name]
		if !ok || v == nil {
			problems = append(problems, fmt.Sprintf("missing %q", f.Name))
			continue
		}
		switch tv := v.(type) {
		case string:
			out[f.Name] = tv
		case json.Number:
			out[f.Name] = tv.String()
		case bool:
			out[f.Name] = strconv.FormatBool(tv)
		default:
			problems = append(problems, fmt.Sprintf("%q is not a scalar", f.Name))
		}
	}
	if len(problems) > 0 {
		return Absent, &Error{Kind: KindSchema, Schema: s.Name, Err: errors.New(strings.Join(problems, ", "))}
	}
	return out, nil
}

func firstObject(raw string) (map[string]any, error) {
	text := stripFence(raw)
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return nil, errNoObject
	}

	dec := json.NewDecoder(strings.NewReader(text[start:]))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	return obj, nil
}

// stripFence returns the body of the first ``` block, or raw unchanged.
func stripFence(raw string) string {
	open := strings.Index(raw, "```")
	if open < 0 {
		return raw
	}
	body := raw[open+3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:] // drop the info string, e.g. "json"
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return body
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// title turns a snake_case field name into "Title Case".
func title(name string) string {
	words := strings.Split(name, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
