package app

import "strings"

// ContextWindow returns the known context size in tokens for a model
// name, matching loosely so provider suffixes ("-0125", "-preview")
// do not defeat the lookup. Unknown models return ok=false and the
// context gauge stays hidden.
func ContextWindow(model string) (int, bool) {
	m := strings.ToLower(strings.TrimSpace(model))
	if m == "" {
		return 0, false
	}

	switch {
	case strings.Contains(m, "gpt-3.5"):
		return 16_385, true
	case strings.Contains(m, "gpt-4o") || strings.Contains(m, "gpt-4-turbo"):
		return 128_000, true
	case strings.Contains(m, "gpt-4"):
		return 8_192, true
	case strings.Contains(m, "glm"):
		return 200_000, true
	case strings.Contains(m, "claude"):
		return 200_000, true
	case strings.Contains(m, "llama"):
		return 128_000, true
	}

	return 0, false
}
