package planner

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/sourceplane/stepflow/internal/extract"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.\-]*)\s*\}\}`)

// MissingVariableError reports placeholders that had no value in the context
type MissingVariableError struct {
	Names []string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("unresolved template variable(s): %s", strings.Join(e.Names, ", "))
}

// Template is a parsed string with {{name}} placeholders
type Template struct {
	raw   string
	parts []templatePart
}

type templatePart struct {
	literal  string
	variable string
}

// ParseTemplate splits a string into literal text and placeholders
func ParseTemplate(s string) *Template {
	t := &Template{raw: s}
	last := 0
	for _, loc := range placeholderPattern.FindAllStringSubmatchIndex(s, -1) {
		if loc[0] > last {
			t.parts = append(t.parts, templatePart{literal: s[last:loc[0]]})
		}
		t.parts = append(t.parts, templatePart{variable: s[loc[2]:loc[3]]})
		last = loc[1]
	}
	if last < len(s) {
		t.parts = append(t.parts, templatePart{literal: s[last:]})
	}
	return t
}

// Variables returns the distinct placeholder names in order of appearance
func (t *Template) Variables() []string {
	seen := make(map[string]bool)
	names := make([]string, 0)
	for _, p := range t.parts {
		if p.variable != "" && !seen[p.variable] {
			seen[p.variable] = true
			names = append(names, p.variable)
		}
	}
	return names
}

// Execute substitutes every placeholder. All missing names are collected
// into a single MissingVariableError.
func (t *Template) Execute(lookup func(name string) (interface{}, bool)) (string, error) {
	return t.render(lookup, nil)
}

// ExecutePath is Execute for a URL path: each substituted value is escaped
// as a single path segment, so a value can never add segments or start the
// query string. Literal text is left as written.
func (t *Template) ExecutePath(lookup func(name string) (interface{}, bool)) (string, error) {
	return t.render(lookup, url.PathEscape)
}

func (t *Template) render(lookup func(name string) (interface{}, bool), escape func(string) string) (string, error) {
	var sb strings.Builder
	var missing []string
	for _, p := range t.parts {
		if p.variable == "" {
			sb.WriteString(p.literal)
			continue
		}
		val, ok := lookup(p.variable)
		if !ok {
			missing = append(missing, p.variable)
			continue
		}
		text := extract.Stringify(val)
		if escape != nil {
			text = escape(text)
		}
		sb.WriteString(text)
	}
	if len(missing) > 0 {
		return "", &MissingVariableError{Names: dedupe(missing)}
	}
	return sb.String(), nil
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

// TemplateCache avoids re-parsing identical path and query strings across
// steps and runs
type TemplateCache struct {
	mu        sync.Mutex
	templates map[string]*Template
}

// NewTemplateCache creates an empty cache
func NewTemplateCache() *TemplateCache {
	return &TemplateCache{templates: make(map[string]*Template)}
}

// Get returns the parsed template for s, parsing it on first use
func (c *TemplateCache) Get(s string) *Template {
	c.mu.Lock()
	defer c.mu.Unlock()
	tmpl, exists := c.templates[s]
	if !exists {
		tmpl = ParseTemplate(s)
		c.templates[s] = tmpl
	}
	return tmpl
}

// ResolvedRequest is a step's path and query with all placeholders substituted
type ResolvedRequest struct {
	Path  string
	Query map[string]string
}

// Resolve renders a step's path and query parameters. Values substituted into
// the path are path-escaped; query values are left for the transport to
// encode. Every missing name across the path and all parameters is reported
// together.
func (c *TemplateCache) Resolve(path string, query map[string]interface{}, lookup func(string) (interface{}, bool)) (ResolvedRequest, error) {
	resolved := ResolvedRequest{Query: make(map[string]string, len(query))}
	var missing []string

	rendered, err := c.Get(path).ExecutePath(lookup)
	if err != nil {
		missing = append(missing, missingNames(err)...)
	}
	resolved.Path = rendered

	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		raw, isString := query[k].(string)
		if !isString {
			resolved.Query[k] = extract.Stringify(query[k])
			continue
		}
		val, err := c.Get(raw).Execute(lookup)
		if err != nil {
			missing = append(missing, missingNames(err)...)
			continue
		}
		resolved.Query[k] = val
	}

	if len(missing) > 0 {
		return ResolvedRequest{}, &MissingVariableError{Names: dedupe(missing)}
	}
	return resolved, nil
}

func missingNames(err error) []string {
	if mv, ok := err.(*MissingVariableError); ok {
		return mv.Names
	}
	return nil
}

// StepVariables returns every placeholder name a step's path and query read
func StepVariables(path string, query map[string]interface{}) []string {
	names := ParseTemplate(path).Variables()
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s, ok := query[k].(string); ok {
			names = append(names, ParseTemplate(s).Variables()...)
		}
	}
	return dedupe(names)
}
