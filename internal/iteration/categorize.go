package iteration

import "strings"

// Category classifies an error for feedback purposes.
type Category string

const (
	CategorySyntax  Category = "syntax"
	CategoryRuntime Category = "runtime"
	CategoryTimeout Category = "timeout"
	CategoryLogical Category = "logical"
)

var (
	timeoutKeywords = []string{
		"timed out", "timeout", "deadline exceeded", "took too long", "cancelled",
	}
	syntaxKeywords = []string{
		"syntaxerror", "syntax error", "unexpected token", "unexpected end",
		"parse error", "invalid syntax", "unterminated", "unexpected identifier",
	}
	runtimeKeywords = []string{
		"referenceerror", "typeerror", "rangeerror", "nameerror", "not defined",
		"is not a function", "cannot read", "undefined is not", "null pointer",
		"division by zero", "divide by zero", "index out of", "out of range",
		"stack overflow", "out of memory", "permission denied", "no such file",
	}
)

// Categorize classifies an error message by keyword matching against the
// lowercased text. Priority: timeout, then syntax, then runtime; anything
// unrecognized lands in the logical bucket.
func Categorize(msg string) Category {
	lower := strings.ToLower(msg)
	for _, kw := range timeoutKeywords {
		if strings.Contains(lower, kw) {
			return CategoryTimeout
		}
	}
	for _, kw := range syntaxKeywords {
		if strings.Contains(lower, kw) {
			return CategorySyntax
		}
	}
	for _, kw := range runtimeKeywords {
		if strings.Contains(lower, kw) {
			return CategoryRuntime
		}
	}
	return CategoryLogical
}

var suggestionsByCategory = map[Category][]string{
	CategorySyntax: {
		"Check for unbalanced brackets, quotes or parentheses",
		"Verify the statement structure near the reported position",
		"Simplify the expression and reintroduce complexity step by step",
	},
	CategoryRuntime: {
		"Confirm every variable is defined before use",
		"Check argument types passed to functions",
		"Guard against empty inputs and boundary values",
	},
	CategoryTimeout: {
		"Reduce input size or loop bounds",
		"Replace the algorithm with a lower-complexity approach",
		"Avoid unbounded loops; add an explicit termination condition",
	},
	CategoryLogical: {
		"Re-read the task statement and compare it with the produced output",
		"Add intermediate logging to inspect values mid-computation",
		"Test with a smaller input whose expected result is known",
	},
}

// Suggestions maps a category to fix suggestions. Never empty: the logical
// bucket carries generic debugging advice so feedback is never silent.
func Suggestions(cat Category) []string {
	if s, ok := suggestionsByCategory[cat]; ok {
		return s
	}
	return suggestionsByCategory[CategoryLogical]
}

// completionPhrases are the substrings treated as an explicit completion
// signal in model output. Deliberately fuzzy; the explicit next-action
// signal is the reliable channel and this sits in front of it.
var completionPhrases = []string{
	"task completed",
	"task complete",
	"final answer:",
	"in conclusion",
	"therefore, the answer is",
	"problem solved",
	"objective achieved",
}

// IsCompletionSignal reports whether text contains one of the fixed
// completion phrases.
func IsCompletionSignal(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range completionPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
