package plugins

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/zankora/agw/internal/domain"
)

func registerMathTools(reg *Registry) error {
	specs := []struct {
		spec    domain.ToolSpec
		handler func(ctx context.Context, args map[string]any) (map[string]any, error)
	}{
		{
			spec: domain.ToolSpec{
				Name:        "math.calculate",
				Description: "Evaluate mathematical expressions safely (basic operators and common functions).",
				Permission:  domain.PermissionRead,
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"expression": map[string]any{
							"type":        "string",
							"description": "Expression to evaluate, e.g. 'sqrt(16) + 2 * 3'",
						},
					},
					"required": []any{"expression"},
				},
			},
			handler: calculate,
		},
		{
			spec: domain.ToolSpec{
				Name:        "math.statistics",
				Description: "Statistical metrics (mean, median, min, max, range) for a list of numbers.",
				Permission:  domain.PermissionRead,
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"numbers": map[string]any{
							"type":  "array",
							"items": map[string]any{"type": "number"},
						},
					},
					"required": []any{"numbers"},
				},
			},
			handler: statistics,
		},
		{
			spec: domain.ToolSpec{
				Name:        "math.fibonacci",
				Description: "Generate the Fibonacci sequence up to n terms (max 100).",
				Permission:  domain.PermissionRead,
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"n": map[string]any{"type": "integer"},
					},
					"required": []any{"n"},
				},
			},
			handler: fibonacci,
		},
		{
			spec: domain.ToolSpec{
				Name:        "math.prime_factors",
				Description: "Prime factorization of an integer greater than 1.",
				Permission:  domain.PermissionRead,
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"n": map[string]any{"type": "integer"},
					},
					"required": []any{"n"},
				},
			},
			handler: primeFactors,
		},
	}
	for _, s := range specs {
		if err := reg.RegisterTool(s.spec, s.handler); err != nil {
			return err
		}
	}

	reg.RegisterCommand("math.selftest", func(ctx context.Context) (map[string]any, error) {
		res, err := calculate(ctx, map[string]any{"expression": "sqrt(16) + 2 * 3"})
		if err != nil {
			return nil, err
		}
		got, _ := res["result"].(float64)
		if got != 10 {
			return nil, fmt.Errorf("calculate self-test: got %v, want 10", got)
		}
		return map[string]any{"ok": true}, nil
	})
	return nil
}

func calculate(_ context.Context, args map[string]any) (map[string]any, error) {
	expr, _ := args["expression"].(string)
	result, err := evalExpr(expr)
	if err != nil {
		return map[string]any{"expression": expr, "error": err.Error(), "success": false}, nil
	}
	return map[string]any{"expression": expr, "result": result, "success": true}, nil
}

func statistics(_ context.Context, args map[string]any) (map[string]any, error) {
	raw, _ := args["numbers"].([]any)
	if len(raw) == 0 {
		return map[string]any{"error": "empty list provided"}, nil
	}
	nums := make([]float64, 0, len(raw))
	sum := 0.0
	for _, v := range raw {
		f, ok := v.(float64)
		if !ok {
			return map[string]any{"error": fmt.Sprintf("not a number: %v", v)}, nil
		}
		nums = append(nums, f)
		sum += f
	}
	sorted := append([]float64(nil), nums...)
	sort.Float64s(sorted)
	n := len(sorted)
	median := sorted[n/2]
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return map[string]any{
		"count":  n,
		"sum":    sum,
		"mean":   sum / float64(n),
		"median": median,
		"min":    sorted[0],
		"max":    sorted[n-1],
		"range":  sorted[n-1] - sorted[0],
	}, nil
}

func fibonacci(_ context.Context, args map[string]any) (map[string]any, error) {
	n := intArg(args, "n")
	if n <= 0 {
		return map[string]any{"error": "n must be positive"}, nil
	}
	if n > 100 {
		return map[string]any{"error": "n too large (max 100)"}, nil
	}
	seq := make([]float64, 0, n)
	a, b := 0.0, 1.0
	for i := 0; i < n; i++ {
		seq = append(seq, a)
		a, b = b, a+b
	}
	return map[string]any{"n": n, "sequence": seq, "last_term": seq[len(seq)-1]}, nil
}

func primeFactors(_ context.Context, args map[string]any) (map[string]any, error) {
	n := intArg(args, "n")
	if n <= 1 {
		return map[string]any{"error": "number must be greater than 1"}, nil
	}
	original := n
	var factors []int
	for d := 2; d*d <= n; d++ {
		for n%d == 0 {
			factors = append(factors, d)
			n /= d
		}
	}
	if n > 1 {
		factors = append(factors, n)
	}
	uniq := factors[:0:0]
	seen := map[int]bool{}
	for _, f := range factors {
		if !seen[f] {
			seen[f] = true
			uniq = append(uniq, f)
		}
	}
	return map[string]any{
		"number":         original,
		"factors":        factors,
		"unique_factors": uniq,
	}, nil
}

func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return 0
}

// mathFuncs and mathConsts are the only identifiers evalExpr accepts.
var mathFuncs = map[string]func(float64) float64{
	"sqrt":  math.Sqrt,
	"sin":   math.Sin,
	"cos":   math.Cos,
	"tan":   math.Tan,
	"log":   math.Log,
	"log10": math.Log10,
	"exp":   math.Exp,
	"abs":   math.Abs,
}

var mathConsts = map[string]float64{
	"pi": math.Pi,
	"e":  math.E,
}
