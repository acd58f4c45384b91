// Package prompts holds the prompt templates sent to the model. The texts
// are configuration: the embedded catalog can be overridden entry by entry
// from a YAML file.
package prompts

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultCatalog []byte

// FormatInstructions is the placeholder replaced with the schema's output
// instructions.
const FormatInstructions = "format_instructions"

type Catalog struct {
	ChatSystem string `yaml:"chat_system"`
	Engagement string `yaml:"engagement"`
	State      string `yaml:"state"`
}

// Default returns the embedded catalog.
func Default() Catalog {
	var c Catalog
	if err := yaml.Unmarshal(defaultCatalog, &c); err != nil {
		panic(fmt.Sprintf("prompts: embedded catalog: %v", err))
	}
	return c
}

// Load returns the embedded catalog with any non-empty entries from path
// applied on top. An empty path returns the defaults.
func Load(path string) (Catalog, error) {
	c := Default()
	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read prompts file: %w", err)
	}
	var override Catalog
	if err := yaml.Unmarshal(data, &override); err != nil {
		return Catalog{}, fmt.Errorf("parse prompts file: %w", err)
	}

	for _, e := range []struct {
		name     string
		dst      *string
		template string
	}{
		{"chat_system", &c.ChatSystem, override.ChatSystem},
		{"engagement", &c.Engagement, override.Engagement},
		{"state", &c.State, override.State},
	} {
		if e.template == "" {
			continue
		}
		// An override must take the same inputs as the template it replaces.
		if want, got := Placeholders(*e.dst), Placeholders(e.template); !samePlaceholders(want, got) {
			return Catalog{}, fmt.Errorf("prompts file: %s uses placeholders %v, want %v", e.name, got, want)
		}
		*e.dst = e.template
	}
	return c, nil
}

func samePlaceholders(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, n := range a {
		set[n] = true
	}
	for _, n := range b {
		if !set[n] {
			return false
		}
	}
	return true
}

var placeholder = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Render substitutes {name} placeholders from vars. Every placeholder needs a
// value and every var needs a placeholder. "{{" and "}}" render as literal
// braces.
func Render(template string, vars map[string]string) (string, error) {
	const lb, rb = "\x00lb\x00", "\x00rb\x00"
	escaped := strings.NewReplacer("{{", lb, "}}", rb).Replace(template)

	used := make(map[string]bool, len(vars))
	var missing []string
	out := placeholder.ReplaceAllStringFunc(escaped, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := vars[name]
		if !ok {
			missing = append(missing, name)
			return m
		}
		used[name] = true
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("render template: missing values for %s", strings.Join(missing, ", "))
	}
	for name := range vars {
		if !used[name] {
			return "", fmt.Errorf("render template: no placeholder for %q", name)
		}
	}

	return strings.NewReplacer(lb, "{", rb, "}").Replace(out), nil
}

// Placeholders lists the distinct placeholder names in template, in order
// of first appearance.
func Placeholders(template string) []string {
	template = strings.NewReplacer("{{", "", "}}", "").Replace(template)
	seen := make(map[string]bool)
	var names []string
	for _, m := range placeholder.FindAllStringSubmatch(template, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}
