package rules

import (
	"regexp"
	"strings"
)

// templatePattern matches {{ expression }} placeholders in reason strings.
var templatePattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// renderTemplate resolves every {{ expression }} placeholder against the
// entity document. Unresolvable placeholders render as empty strings so a
// sloppy template never fails an evaluation that already matched.
func (e *evaluator) renderTemplate(template string, data any) string {
	return templatePattern.ReplaceAllStringFunc(template, func(match string) string {
		expr := strings.TrimSpace(match[2 : len(match)-2])
		value, err := e.evaluateString(expr, data)
		if err != nil {
			return ""
		}
		return value
	})
}

// validateTemplate checks every placeholder expression compiles.
func (e *evaluator) validateTemplate(template string) error {
	for _, match := range templatePattern.FindAllStringSubmatch(template, -1) {
		if err := e.validate(match[1]); err != nil {
			return err
		}
	}
	return nil
}
