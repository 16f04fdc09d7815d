// Package iteration holds the pure decision logic shared by the
// self-correcting patterns: after every generate-execute-validate attempt it
// decides whether to keep iterating, stop on success, stop on
// convergence/stagnation, or stop at the attempt cap. Everything here is a
// pure function over the attempt history, so the classifiers are unit
// testable and replaceable without touching pattern control flow.
package iteration

import (
	"regexp"
	"strings"
	"time"

	"github.com/agentlab-ai/agentlab/internal/tools"
)

// Attempt is one generate-execute-validate cycle in a run. Number is 1-based
// and strictly increases by 1 per entry.
type Attempt struct {
	Number    int           `json:"number"`
	Code      string        `json:"code,omitempty"`
	Result    *tools.Result `json:"result,omitempty"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// Decision is the outcome of evaluating an attempt history.
type Decision struct {
	ShouldContinue bool   `json:"should_continue"`
	Reason         string `json:"reason"`
}

// stuckLookback is how many trailing attempts must share a normalized error
// before the run is classified as stuck.
const stuckLookback = 3

// Decide evaluates the history after every attempt. Rules are checked in
// precedence order; the first match wins:
//  1. attempt cap reached
//  2. most recent attempt succeeded
//  3. stuck: the last stuckLookback attempts all failed with the same
//     normalized error
//  4. converged: the last two errors match, or the code is cycling
//     (attempt N identical to N-2), or the last attempt succeeded
//  5. otherwise continue
func Decide(history []Attempt, maxAttempts int) Decision {
	if len(history) >= maxAttempts {
		return Decision{ShouldContinue: false, Reason: "reached maximum attempts"}
	}
	if len(history) == 0 {
		return Decision{ShouldContinue: true, Reason: "no attempts yet"}
	}

	last := history[len(history)-1]
	if succeeded(last) {
		return Decision{ShouldContinue: false, Reason: "completed successfully"}
	}

	if isStuck(history) {
		return Decision{ShouldContinue: false, Reason: "no progress across recent attempts - appears stuck"}
	}

	if isConverged(history) {
		return Decision{ShouldContinue: false, Reason: "converged - not improving"}
	}

	return Decision{ShouldContinue: true, Reason: "still making progress"}
}

// succeeded reports whether an attempt finished cleanly: a successful tool
// result and no recorded error.
func succeeded(a Attempt) bool {
	return a.Error == "" && a.Result != nil && a.Result.Success
}

// attemptError returns the attempt's effective error message, preferring the
// explicit Error field over the tool result's.
func attemptError(a Attempt) string {
	if a.Error != "" {
		return a.Error
	}
	if a.Result != nil && !a.Result.Success {
		return a.Result.Error
	}
	return ""
}

// isStuck reports whether the last stuckLookback attempts all failed with
// textually identical errors after normalization.
func isStuck(history []Attempt) bool {
	if len(history) < stuckLookback {
		return false
	}
	recent := history[len(history)-stuckLookback:]
	first := ""
	for i, a := range recent {
		msg := attemptError(a)
		if msg == "" {
			return false
		}
		norm := NormalizeError(msg)
		if i == 0 {
			first = norm
			continue
		}
		if norm != first {
			return false
		}
	}
	return true
}

// isConverged detects weaker stagnation signals than isStuck: two matching
// errors in a row, or code oscillating with period two. The success branch
// is a safety net; Decide's success rule fires first.
func isConverged(history []Attempt) bool {
	n := len(history)
	if succeeded(history[n-1]) {
		return true
	}
	if n >= 2 {
		a, b := attemptError(history[n-2]), attemptError(history[n-1])
		if a != "" && b != "" && NormalizeError(a) == NormalizeError(b) {
			return true
		}
	}
	if n >= 3 {
		if history[n-1].Code != "" && history[n-1].Code == history[n-3].Code {
			return true
		}
	}
	return false
}

var (
	lineNumberRe = regexp.MustCompile(`line \d+`)
	positionRe   = regexp.MustCompile(`:\d+:`)
	digitsRe     = regexp.MustCompile(`\d+`)
)

// NormalizeError canonicalizes an error message so that occurrences of the
// same root cause compare equal: lowercased, line numbers and positions
// masked, remaining digit runs collapsed. "NameError at line 5" and
// "nameerror at line 12" normalize identically.
func NormalizeError(msg string) string {
	out := strings.ToLower(strings.TrimSpace(msg))
	out = lineNumberRe.ReplaceAllString(out, "line X")
	out = positionRe.ReplaceAllString(out, ":X:")
	out = digitsRe.ReplaceAllString(out, "N")
	return out
}
