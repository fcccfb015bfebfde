package service

import (
	"regexp"
	"strings"
)

// MetaInjectionSuspected is set on requests whose question contained
// instruction-override phrasing
const MetaInjectionSuspected = "prompt_injection_suspected"

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(ignore|disregard|forget|override)\s+(all\s+)?(of\s+)?(the\s+|your\s+|any\s+)?(previous|prior|above|earlier|system)\s+(instructions|prompts?|rules|messages)\b`),
	regexp.MustCompile(`(?i)\bforget\s+(everything|all)\s+(you\s+were\s+told|above)\b`),
	regexp.MustCompile(`(?i)\byou\s+are\s+now\s+(an?\s+)?\w+`),
	regexp.MustCompile(`(?i)\bnew\s+instructions\s*:`),
	regexp.MustCompile(`(?i)\b(reveal|print|show)\s+(me\s+)?(your|the)\s+system\s+prompt\b`),
	regexp.MustCompile(`(?i)\bact\s+as\s+(an?\s+)?(admin|administrator|root|superuser|dba)\b`),
}

// SanitizedQuestion is a question prepared for prompting
type SanitizedQuestion struct {
	Text               string
	Truncated          bool
	InjectionSuspected bool
}

// SanitizeQuestion collapses whitespace runs, truncates to maxRunes and
// quotes instruction-override phrases so they read as literal question text.
func SanitizeQuestion(question string, maxRunes int) SanitizedQuestion {
	var out SanitizedQuestion

	text := strings.Join(strings.Fields(question), " ")
	if r := []rune(text); maxRunes > 0 && len(r) > maxRunes {
		text = strings.TrimSpace(string(r[:maxRunes]))
		out.Truncated = true
	}

	for _, p := range injectionPatterns {
		if !p.MatchString(text) {
			continue
		}
		out.InjectionSuspected = true
		text = p.ReplaceAllStringFunc(text, func(m string) string {
			return `"` + strings.Trim(m, `"`) + `"`
		})
	}

	out.Text = text
	return out
}
