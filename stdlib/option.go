package stdlib

import (
	"fmt"

	"github.com/atlas-lang/atlas/pkg/value"
)

func init() {
	register("Some", 1, func(_ *Context, args []value.Value) (value.Value, error) {
		return value.Some(args[0]), nil
	})
	register("Ok", 1, func(_ *Context, args []value.Value) (value.Value, error) {
		return value.Ok(args[0]), nil
	})
	register("Err", 1, func(_ *Context, args []value.Value) (value.Value, error) {
		return value.Err(args[0]), nil
	})
	register("unwrap", 1, builtinUnwrap)
	register("unwrapOr", 2, builtinUnwrapOr)
	register("isSome", 1, optionPredicate("isSome", value.Value.IsSome))
	register("isNone", 1, optionPredicate("isNone", value.Value.IsNone))
	register("isOk", 1, resultPredicate("isOk", value.Value.IsOk))
	register("isErr", 1, resultPredicate("isErr", value.Value.IsErr))
}

func builtinUnwrap(_ *Context, args []value.Value) (value.Value, error) {
	v := args[0]
	switch v.Kind() {
	case value.KindOption:
		if p, ok := v.OptionPayload(); ok {
			return p.Retain(), nil
		}
		return value.Null(), fmt.Errorf("%w: unwrap called on None", ErrTypeMismatch)
	case value.KindResult:
		p, ok := v.ResultPayload()
		if ok {
			return p.Retain(), nil
		}
		return value.Null(), fmt.Errorf("%w: unwrap called on Err(%s)", ErrTypeMismatch, p.Inspect())
	}
	return value.Null(), typeErr("unwrap", 0, "an Option or Result", v)
}

func builtinUnwrapOr(_ *Context, args []value.Value) (value.Value, error) {
	v := args[0]
	switch v.Kind() {
	case value.KindOption:
		if p, ok := v.OptionPayload(); ok {
			return p.Retain(), nil
		}
		return args[1], nil
	case value.KindResult:
		if p, ok := v.ResultPayload(); ok {
			return p.Retain(), nil
		}
		return args[1], nil
	}
	return value.Null(), typeErr("unwrapOr", 0, "an Option or Result", v)
}

func optionPredicate(name string, pred func(value.Value) bool) Func {
	return func(_ *Context, args []value.Value) (value.Value, error) {
		if args[0].Kind() != value.KindOption {
			return value.Null(), typeErr(name, 0, "an Option", args[0])
		}
		return value.Bool(pred(args[0])), nil
	}
}

func resultPredicate(name string, pred func(value.Value) bool) Func {
	return func(_ *Context, args []value.Value) (value.Value, error) {
		if args[0].Kind() != value.KindResult {
			return value.Null(), typeErr(name, 0, "a Result", args[0])
		}
		return value.Bool(pred(args[0])), nil
	}
}
