package stdlib

import (
	"fmt"
	"math"

	"github.com/atlas-lang/atlas/pkg/value"
)

func init() {
	unary := map[string]func(float64) float64{
		"abs":   math.Abs,
		"floor": math.Floor,
		"ceil":  math.Ceil,
		"round": math.Round,
		"sqrt":  math.Sqrt,
	}
	for name, fn := range unary {
		register(name, 1, mathUnary(name, fn))
	}
	register("pow", 2, builtinPow)
	register("min", -1, builtinExtremum("min", func(a, b float64) bool { return a < b }))
	register("max", -1, builtinExtremum("max", func(a, b float64) bool { return a > b }))
}

func mathUnary(name string, fn func(float64) float64) Func {
	return func(_ *Context, args []value.Value) (value.Value, error) {
		n, err := argNumber(name, args, 0)
		if err != nil {
			return value.Null(), err
		}
		return finite(name, fn(n))
	}
}

func builtinPow(_ *Context, args []value.Value) (value.Value, error) {
	base, err := argNumber("pow", args, 0)
	if err != nil {
		return value.Null(), err
	}
	exp, err := argNumber("pow", args, 1)
	if err != nil {
		return value.Null(), err
	}
	return finite("pow", math.Pow(base, exp))
}

func builtinExtremum(name string, better func(a, b float64) bool) Func {
	return func(_ *Context, args []value.Value) (value.Value, error) {
		if len(args) == 0 {
			return value.Null(), fmt.Errorf("%w: %s needs at least one argument", ErrTypeMismatch, name)
		}
		best, err := argNumber(name, args, 0)
		if err != nil {
			return value.Null(), err
		}
		for i := 1; i < len(args); i++ {
			n, err := argNumber(name, args, i)
			if err != nil {
				return value.Null(), err
			}
			if better(n, best) {
				best = n
			}
		}
		return value.Number(best), nil
	}
}
