package stdlib

import (
	"fmt"

	"github.com/atlas-lang/atlas/pkg/value"
)

func init() {
	register("hashMapNew", 0, func(_ *Context, _ []value.Value) (value.Value, error) {
		return value.NewMap(), nil
	})
	register("hashMapPut", 3, builtinMapPut)
	register("hashMapGet", 2, builtinMapGet)
	register("hashMapHas", 2, builtinMapHas)
	register("hashMapRemove", 2, builtinMapRemove)
	register("hashMapKeys", 1, mapListing("hashMapKeys", (*value.Map).Keys))
	register("hashMapValues", 1, mapListing("hashMapValues", (*value.Map).Values))

	register("hashSetNew", 0, func(_ *Context, _ []value.Value) (value.Value, error) {
		return value.NewSet(), nil
	})
	register("hashSetAdd", 2, builtinSetAdd)
	register("hashSetHas", 2, builtinSetHas)
	register("hashSetRemove", 2, builtinSetRemove)
	register("hashSetToArray", 1, builtinSetToArray)

	register("shared", 1, func(_ *Context, args []value.Value) (value.Value, error) {
		return value.NewShared(args[0]), nil
	})
	register("sharedGet", 1, builtinSharedGet)
	register("sharedSet", 2, builtinSharedSet)
}

func argMap(name string, args []value.Value, i int) (*value.Map, error) {
	m := args[i].AsMap()
	if m == nil {
		return nil, typeErr(name, i, "a hash map", args[i])
	}
	return m, nil
}

func argSet(name string, args []value.Value, i int) (*value.Set, error) {
	s := args[i].AsSet()
	if s == nil {
		return nil, typeErr(name, i, "a hash set", args[i])
	}
	return s, nil
}

func keyErr(err error) error {
	return fmt.Errorf("%w: %v", ErrTypeMismatch, err)
}

func builtinMapPut(_ *Context, args []value.Value) (value.Value, error) {
	if _, err := argMap("hashMapPut", args, 0); err != nil {
		return value.Null(), err
	}
	m, err := value.MapPut(args[0], args[1], args[2])
	if err != nil {
		return value.Null(), keyErr(err)
	}
	return m, nil
}

func builtinMapGet(_ *Context, args []value.Value) (value.Value, error) {
	m, err := argMap("hashMapGet", args, 0)
	if err != nil {
		return value.Null(), err
	}
	if _, err := value.KeyOf(args[1]); err != nil {
		return value.Null(), keyErr(err)
	}
	if v, ok := m.Get(args[1]); ok {
		return value.Some(v.Retain()), nil
	}
	return value.None(), nil
}

func builtinMapHas(_ *Context, args []value.Value) (value.Value, error) {
	m, err := argMap("hashMapHas", args, 0)
	if err != nil {
		return value.Null(), err
	}
	if _, err := value.KeyOf(args[1]); err != nil {
		return value.Null(), keyErr(err)
	}
	_, ok := m.Get(args[1])
	return value.Bool(ok), nil
}

func builtinMapRemove(_ *Context, args []value.Value) (value.Value, error) {
	if _, err := argMap("hashMapRemove", args, 0); err != nil {
		return value.Null(), err
	}
	if _, err := value.KeyOf(args[1]); err != nil {
		return value.Null(), keyErr(err)
	}
	m, _, _ := value.MapRemove(args[0], args[1])
	return m, nil
}

func mapListing(name string, list func(*value.Map) []value.Value) Func {
	return func(_ *Context, args []value.Value) (value.Value, error) {
		m, err := argMap(name, args, 0)
		if err != nil {
			return value.Null(), err
		}
		return value.NewArray(list(m)), nil
	}
}

func builtinSetAdd(_ *Context, args []value.Value) (value.Value, error) {
	if _, err := argSet("hashSetAdd", args, 0); err != nil {
		return value.Null(), err
	}
	s, err := value.SetAdd(args[0], args[1])
	if err != nil {
		return value.Null(), keyErr(err)
	}
	return s, nil
}

func builtinSetHas(_ *Context, args []value.Value) (value.Value, error) {
	s, err := argSet("hashSetHas", args, 0)
	if err != nil {
		return value.Null(), err
	}
	if _, err := value.KeyOf(args[1]); err != nil {
		return value.Null(), keyErr(err)
	}
	return value.Bool(s.Has(args[1])), nil
}

func builtinSetRemove(_ *Context, args []value.Value) (value.Value, error) {
	if _, err := argSet("hashSetRemove", args, 0); err != nil {
		return value.Null(), err
	}
	if _, err := value.KeyOf(args[1]); err != nil {
		return value.Null(), keyErr(err)
	}
	s, _ := value.SetRemove(args[0], args[1])
	return s, nil
}

func builtinSetToArray(_ *Context, args []value.Value) (value.Value, error) {
	s, err := argSet("hashSetToArray", args, 0)
	if err != nil {
		return value.Null(), err
	}
	return value.NewArray(s.Members()), nil
}

func builtinSharedGet(_ *Context, args []value.Value) (value.Value, error) {
	s := args[0].AsShared()
	if s == nil {
		return value.Null(), typeErr("sharedGet", 0, "a shared value", args[0])
	}
	return s.Get().Retain(), nil
}

func builtinSharedSet(_ *Context, args []value.Value) (value.Value, error) {
	s := args[0].AsShared()
	if s == nil {
		return value.Null(), typeErr("sharedSet", 0, "a shared value", args[0])
	}
	s.Set(args[1])
	return value.Null(), nil
}
