package stdlib

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/atlas-lang/atlas/pkg/value"
)

func init() {
	register("print", -1, builtinPrint(""))
	register("println", -1, builtinPrint("\n"))
	register("len", 1, builtinLen)
	register("str", 1, builtinStr)
	register("num", 1, builtinNum)
	register("typeof", 1, builtinTypeof)
}

func builtinPrint(end string) Func {
	return func(ctx *Context, args []value.Value) (value.Value, error) {
		if err := ctx.Require(CapIO); err != nil {
			return value.Null(), err
		}
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = a.String()
		}
		if _, err := fmt.Fprint(ctx.Stdout, strings.Join(parts, " ")+end); err != nil {
			return value.Null(), fmt.Errorf("writing output: %w", err)
		}
		return value.Null(), nil
	}
}

func builtinLen(_ *Context, args []value.Value) (value.Value, error) {
	v := args[0]
	switch v.Kind() {
	case value.KindString:
		s, _ := v.AsString()
		return value.Number(float64(utf8.RuneCountInString(s))), nil
	case value.KindArray:
		return value.Number(float64(v.AsArray().Len())), nil
	case value.KindMap:
		return value.Number(float64(v.AsMap().Len())), nil
	case value.KindSet:
		return value.Number(float64(v.AsSet().Len())), nil
	}
	return value.Null(), typeErr("len", 0, "a string or collection", v)
}

func builtinStr(_ *Context, args []value.Value) (value.Value, error) {
	return value.String(args[0].String()), nil
}

func builtinNum(_ *Context, args []value.Value) (value.Value, error) {
	v := args[0]
	switch v.Kind() {
	case value.KindNumber:
		return v, nil
	case value.KindBool:
		if b, _ := v.AsBool(); b {
			return value.Number(1), nil
		}
		return value.Number(0), nil
	case value.KindString:
		s, _ := v.AsString()
		n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return value.Null(), fmt.Errorf("%w: cannot convert %q to a number", ErrTypeMismatch, s)
		}
		return finite("num", n)
	}
	return value.Null(), typeErr("num", 0, "a number, bool or string", v)
}

func builtinTypeof(_ *Context, args []value.Value) (value.Value, error) {
	return value.String(args[0].TypeName()), nil
}
