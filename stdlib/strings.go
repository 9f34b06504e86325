package stdlib

import (
	"fmt"
	"strings"

	"github.com/atlas-lang/atlas/pkg/value"
)

func init() {
	register("split", 2, builtinSplit)
	register("join", 2, builtinJoin)
	register("trim", 1, stringUnary("trim", strings.TrimSpace))
	register("toUpper", 1, stringUnary("toUpper", strings.ToUpper))
	register("toLower", 1, stringUnary("toLower", strings.ToLower))

	register("regexNew", 1, builtinRegexNew)
	register("regexTest", 2, builtinRegexTest)
	register("regexFind", 2, builtinRegexFind)
	register("regexFindAll", 2, builtinRegexFindAll)
}

func stringUnary(name string, fn func(string) string) Func {
	return func(_ *Context, args []value.Value) (value.Value, error) {
		s, err := argString(name, args, 0)
		if err != nil {
			return value.Null(), err
		}
		return value.String(fn(s)), nil
	}
}

func builtinSplit(_ *Context, args []value.Value) (value.Value, error) {
	s, err := argString("split", args, 0)
	if err != nil {
		return value.Null(), err
	}
	sep, err := argString("split", args, 1)
	if err != nil {
		return value.Null(), err
	}
	parts := strings.Split(s, sep)
	out := make([]value.Value, len(parts))
	for i, p := range parts {
		out[i] = value.String(p)
	}
	return value.NewArray(out), nil
}

func builtinJoin(_ *Context, args []value.Value) (value.Value, error) {
	arr, err := argArray("join", args, 0)
	if err != nil {
		return value.Null(), err
	}
	sep, err := argString("join", args, 1)
	if err != nil {
		return value.Null(), err
	}
	parts := make([]string, arr.Len())
	for i, v := range arr.Elements() {
		parts[i] = v.String()
	}
	return value.String(strings.Join(parts, sep)), nil
}

// ArgRegex extracts a regex argument. Exported for the VM's regex intrinsics.
func ArgRegex(name string, args []value.Value, i int) (*value.Regex, error) {
	re := args[i].AsRegex()
	if re == nil {
		return nil, typeErr(name, i, "a regex", args[i])
	}
	return re, nil
}

// regexNew returns Ok(regex) or Err(message); a bad pattern is data, not a fault.
func builtinRegexNew(_ *Context, args []value.Value) (value.Value, error) {
	pattern, err := argString("regexNew", args, 0)
	if err != nil {
		return value.Null(), err
	}
	re, err := value.CompileRegex(pattern)
	if err != nil {
		return value.Err(value.String(err.Error())), nil
	}
	return value.Ok(re), nil
}

func regexArgs(name string, args []value.Value) (*value.Regex, string, error) {
	re, err := ArgRegex(name, args, 0)
	if err != nil {
		return nil, "", err
	}
	s, err := argString(name, args, 1)
	if err != nil {
		return nil, "", err
	}
	return re, s, nil
}

func builtinRegexTest(_ *Context, args []value.Value) (value.Value, error) {
	re, s, err := regexArgs("regexTest", args)
	if err != nil {
		return value.Null(), err
	}
	ok, err := re.MatchString(s)
	if err != nil {
		return value.Null(), fmt.Errorf("regexTest: %w", err)
	}
	return value.Bool(ok), nil
}

func builtinRegexFind(_ *Context, args []value.Value) (value.Value, error) {
	re, s, err := regexArgs("regexFind", args)
	if err != nil {
		return value.Null(), err
	}
	m, ok, err := re.Find(s)
	if err != nil {
		return value.Null(), fmt.Errorf("regexFind: %w", err)
	}
	if !ok {
		return value.None(), nil
	}
	return value.Some(MatchValue(m)), nil
}

func builtinRegexFindAll(_ *Context, args []value.Value) (value.Value, error) {
	re, s, err := regexArgs("regexFindAll", args)
	if err != nil {
		return value.Null(), err
	}
	matches, err := re.FindAll(s, -1)
	if err != nil {
		return value.Null(), fmt.Errorf("regexFindAll: %w", err)
	}
	out := make([]value.Value, len(matches))
	for i, m := range matches {
		out[i] = MatchValue(m)
	}
	return value.NewArray(out), nil
}

// MatchValue converts a match into a map with text, start, end and groups.
func MatchValue(m value.RegexMatch) value.Value {
	groups := make([]value.Value, len(m.Groups))
	for i, g := range m.Groups {
		groups[i] = value.String(g)
	}
	out := value.NewMap()
	// Keys are strings, so MapPut cannot fail here.
	out, _ = value.MapPut(out, value.String("text"), value.String(m.Text))
	out, _ = value.MapPut(out, value.String("start"), value.Number(float64(m.Start)))
	out, _ = value.MapPut(out, value.String("end"), value.Number(float64(m.End)))
	out, _ = value.MapPut(out, value.String("groups"), value.NewArray(groups))
	return out
}
