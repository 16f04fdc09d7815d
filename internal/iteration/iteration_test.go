package iteration

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentlab-ai/agentlab/internal/tools"
)

func failed(n int, err string) Attempt {
	return Attempt{Number: n, Error: err}
}

func TestDecideMaxAttempts(t *testing.T) {
	history := []Attempt{failed(1, "boom"), failed(2, "boom"), failed(3, "boom")}
	d := Decide(history, 3)
	assert.False(t, d.ShouldContinue)
	assert.Contains(t, d.Reason, "maximum attempts")
}

func TestDecideSuccessOutranksStuck(t *testing.T) {
	// Attempts 1-2 share an identical normalized error, attempt 3 succeeded.
	// The success rule must win over the stuck classification.
	history := []Attempt{
		failed(1, "NameError: x is not defined at line 5"),
		failed(2, "NameError: x is not defined at line 9"),
		{Number: 3, Result: &tools.Result{Success: true, Data: 4}},
	}
	d := Decide(history, 5)
	assert.False(t, d.ShouldContinue)
	assert.Contains(t, d.Reason, "completed successfully")
}

func TestDecideStuckOnNormalizedErrors(t *testing.T) {
	history := []Attempt{
		failed(1, "NameError: x is not defined at line 5"),
		failed(2, "NameError: x is not defined at line 10"),
		failed(3, "NameError: x is not defined at line 7"),
	}
	d := Decide(history, 10)
	assert.False(t, d.ShouldContinue)
	assert.Contains(t, d.Reason, "stuck")
}

func TestDecideConvergedOnTwoMatchingErrors(t *testing.T) {
	// Only two attempts, so the stuck rule (lookback 3) cannot fire; the
	// converged rule catches the repeat.
	history := []Attempt{
		failed(1, "TypeError: cannot read length of undefined at :3:12"),
		failed(2, "TypeError: cannot read length of undefined at :7:4"),
	}
	d := Decide(history, 10)
	assert.False(t, d.ShouldContinue)
	assert.Contains(t, d.Reason, "converged")
}

func TestDecideConvergedOnCyclingCode(t *testing.T) {
	history := []Attempt{
		{Number: 1, Code: "let a = 1", Error: "first failure"},
		{Number: 2, Code: "let b = 2", Error: "second failure"},
		{Number: 3, Code: "let a = 1", Error: "third failure"},
	}
	d := Decide(history, 10)
	assert.False(t, d.ShouldContinue)
	assert.Contains(t, d.Reason, "converged")
}

func TestDecideContinuesOnProgress(t *testing.T) {
	history := []Attempt{
		failed(1, "SyntaxError: unexpected token"),
		failed(2, "TypeError: cannot read x"),
	}
	d := Decide(history, 10)
	assert.True(t, d.ShouldContinue)
	assert.Contains(t, d.Reason, "progress")
}

func TestDecideEmptyHistoryContinues(t *testing.T) {
	d := Decide(nil, 5)
	assert.True(t, d.ShouldContinue)
}

func TestNormalizeErrorMasksIntegers(t *testing.T) {
	a := NormalizeError("NameError: x undefined at line 5 (attempt 12)")
	b := NormalizeError("NameError: x undefined at line 31 (attempt 7)")
	assert.Equal(t, a, b)

	c := NormalizeError("failure at :13:37: value 42")
	d := NormalizeError("failure at :1:2: value 99")
	assert.Equal(t, c, d)
}

func TestNormalizeErrorKeepsDistinctCauses(t *testing.T) {
	a := NormalizeError("NameError: x is not defined")
	b := NormalizeError("TypeError: y is not a function")
	assert.NotEqual(t, a, b)
}

func TestCategorizePriority(t *testing.T) {
	cases := []struct {
		msg  string
		want Category
	}{
		{"execution timed out after 10s", CategoryTimeout},
		// Timeout keywords outrank syntax when both appear.
		{"SyntaxError while parsing: operation timed out", CategoryTimeout},
		{"SyntaxError: unexpected token '}'", CategorySyntax},
		{"ReferenceError: foo is not defined", CategoryRuntime},
		{"result does not match expected output", CategoryLogical},
		{"", CategoryLogical},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Categorize(tc.msg), "message %q", tc.msg)
	}
}

func TestSuggestionsNeverEmpty(t *testing.T) {
	for _, cat := range []Category{CategorySyntax, CategoryRuntime, CategoryTimeout, CategoryLogical, Category("unknown")} {
		assert.NotEmpty(t, Suggestions(cat), "category %s", cat)
	}
}

func TestIsCompletionSignal(t *testing.T) {
	assert.True(t, IsCompletionSignal("Task completed. Final answer: 4"))
	assert.True(t, IsCompletionSignal("In Conclusion, the result holds."))
	assert.False(t, IsCompletionSignal("still working through the steps"))
}
