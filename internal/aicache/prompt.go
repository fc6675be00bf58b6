// Package aicache implements the content-addressed AI plan cache (spec.md
// §4.3): normalize a natural-language task prompt, fingerprint it against
// the current device/UI context, look up a reusable cached plan, and
// enforce the strict storage/eviction rules. Grounded on the teacher
// framework's orchestration/cache.go (fingerprint-keyed reuse with a
// success-rate-driven confidence gate).
package aicache

import (
	"sort"
	"strings"
)

var politenessTokens = []string{"please", "can you", "could you", "would you", "kindly", "i want to", "i need to", "let's", "lets"}

// Intent is the coarse classification bucket for a normalized prompt.
type Intent string

const (
	IntentNavigation Intent = "navigation"
	IntentAction     Intent = "action"
	IntentSearch     Intent = "search"
	IntentMedia      Intent = "media"
	IntentSystem     Intent = "system"
)

var intentKeywords = map[Intent][]string{
	IntentNavigation: {"go to", "navigate", "open", "back to", "return to"},
	IntentSearch:     {"search", "find", "look for", "look up"},
	IntentMedia:      {"play", "pause", "record", "watch", "listen", "mute", "volume"},
	IntentSystem:     {"reboot", "restart", "shutdown", "power off", "factory reset", "update"},
	IntentAction:     {"tap", "click", "press", "select", "enter", "type"},
}

// Normalized is the result of normalizing a raw task prompt.
type Normalized struct {
	Raw    string
	Prompt string // normalized_prompt
	Intent Intent
	Target string
}

// Normalize lowercases the prompt, strips politeness tokens, classifies
// intent, and extracts a target phrase (spec.md §4.3 Prompt normalization).
func Normalize(raw string) Normalized {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = stripPoliteness(s)

	intent := classifyIntent(s)
	target := extractTarget(s, intent)

	normalizedPrompt := s
	if target != "" {
		normalizedPrompt = string(intent) + "_" + target
	}

	return Normalized{Raw: raw, Prompt: normalizedPrompt, Intent: intent, Target: target}
}

func stripPoliteness(s string) string {
	for _, tok := range politenessTokens {
		s = strings.ReplaceAll(s, tok, "")
	}
	return collapseSpaces(s)
}

func collapseSpaces(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

func classifyIntent(s string) Intent {
	// Check in a stable, deliberate order so overlapping keywords
	// (e.g. "open" vs "play") resolve predictably.
	order := []Intent{IntentSystem, IntentMedia, IntentSearch, IntentNavigation, IntentAction}
	for _, intent := range order {
		for _, kw := range intentKeywords[intent] {
			if strings.Contains(s, kw) {
				return intent
			}
		}
	}
	return IntentAction
}

// extractTarget takes the phrase following the first matched intent
// keyword as the target; falls back to the last word of the prompt.
func extractTarget(s string, intent Intent) string {
	for _, kw := range intentKeywords[intent] {
		if idx := strings.Index(s, kw); idx >= 0 {
			rest := strings.TrimSpace(s[idx+len(kw):])
			if rest != "" {
				return strings.ReplaceAll(collapseSpaces(rest), " ", "_")
			}
		}
	}
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

// SortedCSV renders a node-id list as a sorted, comma-joined string for
// fingerprinting (spec.md §4.3 Fingerprint: `sorted_csv(available_nodes)`).
func SortedCSV(nodes []string) string {
	cp := append([]string{}, nodes...)
	sort.Strings(cp)
	return strings.Join(cp, ",")
}

// Jaccard computes the Jaccard similarity of two node-id sets (spec.md
// §4.3 Lookup step 2).
func Jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	setA := map[string]bool{}
	for _, n := range a {
		setA[n] = true
	}
	setB := map[string]bool{}
	for _, n := range b {
		setB[n] = true
	}
	intersection := 0
	for n := range setA {
		if setB[n] {
			intersection++
		}
	}
	union := len(setA)
	for n := range setB {
		if !setA[n] {
			union++
		}
	}
	if union == 0 {
		return 1
	}
	return float64(intersection) / float64(union)
}
