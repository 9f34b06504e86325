package stdlib

import (
	"fmt"

	"github.com/atlas-lang/atlas/pkg/value"
)

// maxRange bounds range() so a typo cannot exhaust memory.
const maxRange = 1 << 24

func init() {
	register("push", 2, builtinPush)
	register("pop", 1, builtinPop)
	register("slice", 3, builtinSlice)
	register("concat", 2, builtinConcat)
	register("reverse", 1, builtinReverse)
	register("range", -1, builtinRange)
}

func builtinPush(_ *Context, args []value.Value) (value.Value, error) {
	if _, err := argArray("push", args, 0); err != nil {
		return value.Null(), err
	}
	return value.ArrayPush(args[0], args[1]), nil
}

// pop returns the array without its last element.
func builtinPop(_ *Context, args []value.Value) (value.Value, error) {
	if _, err := argArray("pop", args, 0); err != nil {
		return value.Null(), err
	}
	rest, _, ok := value.ArrayPop(args[0])
	if !ok {
		return value.Null(), fmt.Errorf("%w: pop from empty array", ErrOutOfBounds)
	}
	return rest, nil
}

func builtinSlice(_ *Context, args []value.Value) (value.Value, error) {
	arr, err := argArray("slice", args, 0)
	if err != nil {
		return value.Null(), err
	}
	start, err := argInt("slice", args, 1)
	if err != nil {
		return value.Null(), err
	}
	end, err := argInt("slice", args, 2)
	if err != nil {
		return value.Null(), err
	}
	if start < 0 || end < start || end > arr.Len() {
		return value.Null(), fmt.Errorf("%w: slice [%d:%d] of array with length %d",
			ErrOutOfBounds, start, end, arr.Len())
	}
	return value.NewArray(append([]value.Value(nil), arr.Elements()[start:end]...)), nil
}

func builtinConcat(_ *Context, args []value.Value) (value.Value, error) {
	a, err := argArray("concat", args, 0)
	if err != nil {
		return value.Null(), err
	}
	b, err := argArray("concat", args, 1)
	if err != nil {
		return value.Null(), err
	}
	out := make([]value.Value, 0, a.Len()+b.Len())
	out = append(out, a.Elements()...)
	out = append(out, b.Elements()...)
	return value.NewArray(out), nil
}

func builtinReverse(_ *Context, args []value.Value) (value.Value, error) {
	arr, err := argArray("reverse", args, 0)
	if err != nil {
		return value.Null(), err
	}
	n := arr.Len()
	out := make([]value.Value, n)
	for i, v := range arr.Elements() {
		out[n-1-i] = v
	}
	return value.NewArray(out), nil
}

// range(end), range(start, end) or range(start, end, step).
func builtinRange(_ *Context, args []value.Value) (value.Value, error) {
	if len(args) == 0 || len(args) > 3 {
		return value.Null(), fmt.Errorf("%w: range expects 1 to 3 arguments, got %d", ErrTypeMismatch, len(args))
	}
	bounds := make([]int, len(args))
	for i := range args {
		n, err := argInt("range", args, i)
		if err != nil {
			return value.Null(), err
		}
		bounds[i] = n
	}
	start, end, step := 0, bounds[0], 1
	if len(bounds) > 1 {
		start, end = bounds[0], bounds[1]
	}
	if len(bounds) > 2 {
		step = bounds[2]
	}
	if step == 0 {
		return value.Null(), fmt.Errorf("%w: range step must not be zero", ErrTypeMismatch)
	}

	var out []value.Value
	for i := start; (step > 0 && i < end) || (step < 0 && i > end); i += step {
		if len(out) >= maxRange {
			return value.Null(), fmt.Errorf("%w: range longer than %d elements", ErrOutOfBounds, maxRange)
		}
		out = append(out, value.Number(float64(i)))
	}
	return value.NewArray(out), nil
}
