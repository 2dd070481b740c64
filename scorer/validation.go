package scorer

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ValidationResult contains the results of content validation
type ValidationResult struct {
	Valid       bool
	Issues      []string
	Suggestions []string
}

// ValidationOptions configures content validation behavior. Lengths are in
// characters; a MaxLength of 0 means unlimited.
type ValidationOptions struct {
	MaxLength       int
	MinLength       int
	AllowEmpty      bool
	AllowWhitespace bool
	TrimWhitespace  bool
}

// DefaultValidationOptions returns sensible defaults for content validation
func DefaultValidationOptions() ValidationOptions {
	return ValidationOptions{
		MinLength:       1,
		AllowEmpty:      false,
		AllowWhitespace: false,
		TrimWhitespace:  true,
	}
}

// ValidateContent validates a text or query
func ValidateContent(content string, opts ValidationOptions) ValidationResult {
	result := ValidationResult{Valid: true}

	if content == "" {
		if !opts.AllowEmpty {
			result.Valid = false
			result.Issues = append(result.Issues, "content is empty")
			result.Suggestions = append(result.Suggestions, "provide meaningful text content")
		}
		return result
	}

	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		if !opts.AllowWhitespace {
			result.Valid = false
			result.Issues = append(result.Issues, "content contains only whitespace")
			result.Suggestions = append(result.Suggestions, "provide non-whitespace content")
		}
		return result
	}

	checkContent := content
	if opts.TrimWhitespace {
		checkContent = trimmed
	}
	length := utf8.RuneCountInString(checkContent)

	if length < opts.MinLength {
		result.Valid = false
		result.Issues = append(result.Issues, fmt.Sprintf("content too short (%d chars, minimum %d)",
			length, opts.MinLength))
		result.Suggestions = append(result.Suggestions, "provide more detailed content")
	}

	if opts.MaxLength > 0 && length > opts.MaxLength {
		result.Valid = false
		result.Issues = append(result.Issues, fmt.Sprintf("content too long (%d chars, maximum %d)",
			length, opts.MaxLength))
		result.Suggestions = append(result.Suggestions, fmt.Sprintf("reduce content to under %d characters", opts.MaxLength))
	}

	return result
}

// SanitizeContent cleans and normalizes text content. Chunk offsets refer to
// the text passed to Process, so sanitize before processing, not after.
func SanitizeContent(content string) string {
	content = strings.TrimSpace(content)
	content = normalizeWhitespace(content)
	content = removeNonPrintable(content)
	return content
}

// normalizeWhitespace collapses runs of spaces but preserves newlines and tabs
func normalizeWhitespace(s string) string {
	var result strings.Builder
	wasSpace := false

	for _, r := range s {
		switch {
		case r == '\n' || r == '\t':
			result.WriteRune(r)
			wasSpace = false
		case unicode.IsSpace(r):
			if !wasSpace {
				result.WriteRune(' ')
				wasSpace = true
			}
		default:
			result.WriteRune(r)
			wasSpace = false
		}
	}

	return result.String()
}

// removeNonPrintable removes non-printable characters except newlines and tabs
func removeNonPrintable(s string) string {
	var result strings.Builder

	for _, r := range s {
		if unicode.IsPrint(r) || r == '\n' || r == '\t' {
			result.WriteRune(r)
		}
	}

	return result.String()
}
