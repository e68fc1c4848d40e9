package prompter

import (
	"regexp"
	"strings"
)

// placeholderRegex matches {{name}} substitutions.
var placeholderRegex = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)

// ifBlockRegex matches {% if cond %}...{% endif %}, cond being a bare
// placeholder name treated as truthy/falsy by presence in vars.
var ifBlockRegex = regexp.MustCompile(`(?s)\{%\s*if\s+([a-zA-Z_][a-zA-Z0-9_]*)\s*%\}(.*?)\{%\s*endif\s*%\}`)

var blankLinesRegex = regexp.MustCompile(`\n{3,}`)

// Template is the minimal Jinja-like renderer the prompter uses: `{{name}}`
// substitution and `{% if cond %}...{% endif %}` blocks, gated on whether
// cond is present (and non-empty) among the render-time variables.
type Template struct {
	raw string
}

// NewTemplate wraps a raw template string.
func NewTemplate(raw string) *Template {
	return &Template{raw: raw}
}

// Raw returns the unrendered template text.
func (t *Template) Raw() string { return t.raw }

// Placeholders statically collects every `{{name}}` and `{% if name %}`
// variable referenced by the template, for UpdatePlaceholder validation.
func (t *Template) Placeholders() []string {
	seen := map[string]bool{}
	var names []string
	for _, m := range placeholderRegex.FindAllStringSubmatch(t.raw, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	for _, m := range ifBlockRegex.FindAllStringSubmatch(t.raw, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// Render substitutes `{{name}}` placeholders from vars and resolves `{% if
// %}` blocks, then collapses 3+ consecutive blank lines to 2. queryLast is
// substituted into `{{query}}` (an empty queryLast leaves it blank) after
// every other substitution so a query containing template syntax is never
// itself re-rendered.
func (t *Template) Render(vars map[string]string, queryLast string) string {
	out := ifBlockRegex.ReplaceAllStringFunc(t.raw, func(block string) string {
		m := ifBlockRegex.FindStringSubmatch(block)
		cond, body := m[1], m[2]
		if v, ok := vars[cond]; ok && v != "" {
			return body
		}
		return ""
	})

	out = placeholderRegex.ReplaceAllStringFunc(out, func(match string) string {
		name := placeholderRegex.FindStringSubmatch(match)[1]
		if name == "query" {
			return match // substituted last, below
		}
		if v, ok := vars[name]; ok {
			return v
		}
		return ""
	})

	if strings.Contains(out, "{{query}}") {
		out = strings.ReplaceAll(out, "{{query}}", queryLast)
	}

	return blankLinesRegex.ReplaceAllString(out, "\n\n")
}
