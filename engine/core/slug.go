package core

import (
	"fmt"
	"strings"

	"github.com/gosimple/slug"
)

// maxSlugLen bounds derived step slugs so execution keys stay well under
// common identifier limits in the durable substrate.
const maxSlugLen = 64

// Slugify converts a free-form display name into the canonical kebab-case
// form used for step idempotency keys: lowercase ASCII letters, digits and
// hyphens, whitespace and underscores collapsed to single hyphens,
// punctuation stripped, truncated to 64 characters. A string already in
// canonical form passes through unchanged. Empty or punctuation-only input
// yields "" and must be rejected by callers.
func Slugify(name string) string {
	s := slug.Make(name)
	if len(s) > maxSlugLen {
		s = strings.TrimRight(s[:maxSlugLen], "-")
	}
	return s
}

// StepKey combines the current phase with the derived slug to produce the
// execution key that is unique within a run. Two steps with the same display
// name in different phases never collide.
func StepKey(phase, name string) (string, error) {
	s := Slugify(name)
	if s == "" {
		return "", fmt.Errorf("step name %q produces an empty idempotency slug", name)
	}
	if phase == "" {
		return "", fmt.Errorf("step %q has no enclosing phase", name)
	}
	return phase + "." + s, nil
}
