package tools

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"time"

	"github.com/dop251/goja"
)

// calculatorExpr limits input to arithmetic: digits, operators, parentheses,
// whitespace and the Math functions exposed below. Anything else is rejected
// before it reaches the VM.
var calculatorExpr = regexp.MustCompile(`^[0-9+\-*/%^().,\s]*(?:[0-9+\-*/%^().,\s]|sqrt|abs|pow|min|max|floor|ceil|round|log|exp|sin|cos|tan|pi|e)*$`)

const calculatorTimeout = 2 * time.Second

// Calculator evaluates arithmetic expressions in a bare goja VM with no
// host bindings beyond a handful of math helpers.
type Calculator struct{}

func NewCalculator() *Calculator { return &Calculator{} }

func (c *Calculator) Name() string { return "calculator" }

func (c *Calculator) Description() string {
	return "Evaluates an arithmetic expression, e.g. \"(2+3)*4\" or \"sqrt(16)\". Supports +, -, *, /, %, parentheses and common math functions."
}

func (c *Calculator) Parameters() Schema {
	return Schema{
		Type: "object",
		Properties: map[string]interface{}{
			"expression": map[string]interface{}{
				"type":        "string",
				"description": "The arithmetic expression to evaluate",
			},
		},
		Required: []string{"expression"},
	}
}

func (c *Calculator) Execute(ctx context.Context, args map[string]interface{}) Result {
	expr, ok := stringArg(args, "expression")
	if !ok || expr == "" {
		return Fail("syntax", "calculator: missing required argument %q", "expression")
	}
	if !calculatorExpr.MatchString(expr) {
		return Fail("syntax", "calculator: expression contains unsupported characters")
	}

	vm := goja.New()
	for name, fn := range map[string]func(float64) float64{
		"sqrt":  math.Sqrt,
		"abs":   math.Abs,
		"floor": math.Floor,
		"ceil":  math.Ceil,
		"log":   math.Log,
		"exp":   math.Exp,
		"sin":   math.Sin,
		"cos":   math.Cos,
		"tan":   math.Tan,
	} {
		_ = vm.Set(name, fn)
	}
	_ = vm.Set("pow", math.Pow)
	_ = vm.Set("min", math.Min)
	_ = vm.Set("max", math.Max)
	_ = vm.Set("round", math.Round)
	_ = vm.Set("pi", math.Pi)
	_ = vm.Set("e", math.E)

	done := make(chan struct{})
	defer close(done)
	timer := time.AfterFunc(calculatorTimeout, func() {
		vm.Interrupt("calculator timed out")
	})
	defer timer.Stop()
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt("calculator cancelled")
		case <-done:
		}
	}()

	value, err := vm.RunString(expr)
	if err != nil {
		if _, interrupted := err.(*goja.InterruptedError); interrupted {
			return Fail("timeout", "calculator: evaluation timed out")
		}
		return Fail("syntax", "calculator: %v", err)
	}

	f := value.ToFloat()
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Fail("runtime", "calculator: expression did not evaluate to a finite number")
	}

	return Result{
		Success:  true,
		Data:     f,
		Metadata: map[string]interface{}{"expression": expr, "formatted": formatNumber(f)},
	}
}

// formatNumber renders integers without a trailing ".0" so "2+2" yields "4".
func formatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}
