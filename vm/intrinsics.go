package vm

import (
	"slices"
	"strings"

	"github.com/atlas-lang/atlas/pkg/value"
	"github.com/atlas-lang/atlas/stdlib"
)

// Intrinsics are builtins that call back into Atlas code, so they live in
// the VM rather than in stdlib.
type intrinsic struct {
	arity int
	fn    func(vm *VM, args []value.Value) (value.Value, error)
}

var intrinsics map[string]intrinsic

// Populated in init: the table refers to functions that reach callValue,
// which consults the table.
func init() {
	intrinsics = map[string]intrinsic{
		"map":       {2, intrinsicMap},
		"filter":    {2, intrinsicFilter},
		"reduce":    {3, intrinsicReduce},
		"forEach":   {2, intrinsicForEach},
		"find":      {2, intrinsicFind},
		"findIndex": {2, intrinsicFindIndex},
		"flatMap":   {2, intrinsicFlatMap},
		"some":      {2, intrinsicSome},
		"every":     {2, intrinsicEvery},
		"sort":      {2, intrinsicSort},
		"sortBy":    {2, intrinsicSortBy},

		"hashMapForEach": {2, intrinsicMapForEach},
		"hashMapMap":     {2, intrinsicMapMap},
		"hashMapFilter":  {2, intrinsicMapFilter},
		"hashSetForEach": {2, intrinsicSetForEach},
		"hashSetMap":     {2, intrinsicSetMap},
		"hashSetFilter":  {2, intrinsicSetFilter},

		"optionMap":     {2, intrinsicOptionMap},
		"optionAndThen": {2, intrinsicOptionAndThen},
		"resultMap":     {2, intrinsicResultMap},
		"resultMapErr":  {2, intrinsicResultMapErr},
		"resultAndThen": {2, intrinsicResultAndThen},
		"resultOrElse":  {2, intrinsicResultOrElse},

		"regexReplaceWith":    {3, regexReplacer("regexReplaceWith", 1)},
		"regexReplaceAllWith": {3, regexReplacer("regexReplaceAllWith", -1)},
	}
}

// IntrinsicNames lists the callback-taking builtins the VM provides.
func IntrinsicNames() []string {
	names := make([]string, 0, len(intrinsics))
	for name := range intrinsics {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// IntrinsicArity returns the argument count of an intrinsic.
func IntrinsicArity(name string) (int, bool) {
	in, ok := intrinsics[name]
	return in.arity, ok
}

// ---------------------------------------------------------------------------
// Argument validation
// ---------------------------------------------------------------------------

func (vm *VM) argArray(name string, args []value.Value, i int) ([]value.Value, error) {
	arr := args[i].AsArray()
	if arr == nil {
		return nil, vm.fault(KindTypeError, "%s argument %d must be an array, got %s", name, i+1, args[i].TypeName())
	}
	return slices.Clone(arr.Elements()), nil
}

func (vm *VM) argCallable(name string, args []value.Value, i int) (value.Value, error) {
	if !args[i].IsCallable() {
		return value.Null(), vm.fault(KindTypeError, "%s argument %d must be a function, got %s", name, i+1, args[i].TypeName())
	}
	return args[i], nil
}

// arrayAndFn validates the common (array, callback) signature.
func (vm *VM) arrayAndFn(name string, args []value.Value) ([]value.Value, value.Value, error) {
	elems, err := vm.argArray(name, args, 0)
	if err != nil {
		return nil, value.Null(), err
	}
	fn, err := vm.argCallable(name, args, 1)
	return elems, fn, err
}

// ---------------------------------------------------------------------------
// Arrays
// ---------------------------------------------------------------------------

func intrinsicMap(vm *VM, args []value.Value) (value.Value, error) {
	elems, fn, err := vm.arrayAndFn("map", args)
	if err != nil {
		return value.Null(), err
	}
	out := make([]value.Value, len(elems))
	for i, e := range elems {
		if out[i], err = vm.callCallback(fn, e.Retain()); err != nil {
			return value.Null(), err
		}
	}
	return value.NewArray(out), nil
}

func intrinsicFilter(vm *VM, args []value.Value) (value.Value, error) {
	elems, fn, err := vm.arrayAndFn("filter", args)
	if err != nil {
		return value.Null(), err
	}
	var out []value.Value
	for _, e := range elems {
		keep, err := vm.callCallback(fn, e.Retain())
		if err != nil {
			return value.Null(), err
		}
		if keep.Truthy() {
			out = append(out, e.Retain())
		}
	}
	return value.NewArray(out), nil
}

func intrinsicReduce(vm *VM, args []value.Value) (value.Value, error) {
	elems, fn, err := vm.arrayAndFn("reduce", args)
	if err != nil {
		return value.Null(), err
	}
	acc := args[2]
	for _, e := range elems {
		if acc, err = vm.callCallback(fn, acc, e.Retain()); err != nil {
			return value.Null(), err
		}
	}
	return acc, nil
}

func intrinsicForEach(vm *VM, args []value.Value) (value.Value, error) {
	elems, fn, err := vm.arrayAndFn("forEach", args)
	if err != nil {
		return value.Null(), err
	}
	for _, e := range elems {
		if _, err := vm.callCallback(fn, e.Retain()); err != nil {
			return value.Null(), err
		}
	}
	return value.Null(), nil
}

// firstMatch returns the index of the first element the predicate accepts.
func (vm *VM) firstMatch(name string, args []value.Value, want bool) ([]value.Value, int, error) {
	elems, fn, err := vm.arrayAndFn(name, args)
	if err != nil {
		return nil, -1, err
	}
	for i, e := range elems {
		r, err := vm.callCallback(fn, e.Retain())
		if err != nil {
			return nil, -1, err
		}
		if r.Truthy() == want {
			return elems, i, nil
		}
	}
	return elems, -1, nil
}

func intrinsicFind(vm *VM, args []value.Value) (value.Value, error) {
	elems, i, err := vm.firstMatch("find", args, true)
	if err != nil || i < 0 {
		return value.None(), err
	}
	return value.Some(elems[i].Retain()), nil
}

func intrinsicFindIndex(vm *VM, args []value.Value) (value.Value, error) {
	_, i, err := vm.firstMatch("findIndex", args, true)
	if err != nil || i < 0 {
		return value.None(), err
	}
	return value.Some(value.Number(float64(i))), nil
}

func intrinsicSome(vm *VM, args []value.Value) (value.Value, error) {
	_, i, err := vm.firstMatch("some", args, true)
	if err != nil {
		return value.Null(), err
	}
	return value.Bool(i >= 0), nil
}

func intrinsicEvery(vm *VM, args []value.Value) (value.Value, error) {
	_, i, err := vm.firstMatch("every", args, false)
	if err != nil {
		return value.Null(), err
	}
	return value.Bool(i < 0), nil
}

func intrinsicFlatMap(vm *VM, args []value.Value) (value.Value, error) {
	elems, fn, err := vm.arrayAndFn("flatMap", args)
	if err != nil {
		return value.Null(), err
	}
	var out []value.Value
	for _, e := range elems {
		r, err := vm.callCallback(fn, e.Retain())
		if err != nil {
			return value.Null(), err
		}
		arr := r.AsArray()
		if arr == nil {
			return value.Null(), vm.fault(KindTypeError, "flatMap callback must return an array, got %s", r.TypeName())
		}
		for _, x := range arr.Elements() {
			out = append(out, x.Retain())
		}
	}
	return value.NewArray(out), nil
}

// insertionSort is stable: an element only moves left past strictly
// greater neighbours.
func insertionSort(elems []value.Value, greater func(a, b value.Value) (bool, error)) error {
	for i := 1; i < len(elems); i++ {
		for j := i; j > 0; j-- {
			gt, err := greater(elems[j-1], elems[j])
			if err != nil {
				return err
			}
			if !gt {
				break
			}
			elems[j-1], elems[j] = elems[j], elems[j-1]
		}
	}
	return nil
}

func intrinsicSort(vm *VM, args []value.Value) (value.Value, error) {
	elems, fn, err := vm.arrayAndFn("sort", args)
	if err != nil {
		return value.Null(), err
	}
	err = insertionSort(elems, func(a, b value.Value) (bool, error) {
		r, err := vm.callCallback(fn, a.Retain(), b.Retain())
		if err != nil {
			return false, err
		}
		n, ok := r.AsNumber()
		if !ok {
			return false, vm.fault(KindTypeError, "sort comparator must return a number, got %s", r.TypeName())
		}
		return n > 0, nil
	})
	if err != nil {
		return value.Null(), err
	}
	for _, e := range elems {
		e.Retain()
	}
	return value.NewArray(elems), nil
}

// sortBy computes every key once, then sorts by key: the key function is
// called exactly once per element, in order. Keys must be all numbers or
// all strings.
func intrinsicSortBy(vm *VM, args []value.Value) (value.Value, error) {
	elems, fn, err := vm.arrayAndFn("sortBy", args)
	if err != nil {
		return value.Null(), err
	}
	type keyed struct {
		key  value.Value
		elem value.Value
	}
	items := make([]keyed, len(elems))
	for i, e := range elems {
		k, err := vm.callCallback(fn, e.Retain())
		if err != nil {
			return value.Null(), err
		}
		if !k.IsNumber() && !k.IsString() {
			return value.Null(), vm.fault(KindTypeError, "sortBy key must be a number or string, got %s", k.TypeName())
		}
		if i > 0 && k.Kind() != items[0].key.Kind() {
			return value.Null(), vm.fault(KindTypeError, "sortBy keys mix %s and %s", items[0].key.TypeName(), k.TypeName())
		}
		items[i] = keyed{k, e}
	}
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && keyGreater(items[j-1].key, items[j].key); j-- {
			items[j-1], items[j] = items[j], items[j-1]
		}
	}
	out := make([]value.Value, len(items))
	for i, it := range items {
		out[i] = it.elem.Retain()
	}
	return value.NewArray(out), nil
}

func keyGreater(a, b value.Value) bool {
	if x, ok := a.AsNumber(); ok {
		y, _ := b.AsNumber()
		return x > y
	}
	x, _ := a.AsString()
	y, _ := b.AsString()
	return x > y
}

// ---------------------------------------------------------------------------
// Hash maps and sets
// ---------------------------------------------------------------------------

// mapAndFn validates (map, callback); callbacks receive (value, key).
func (vm *VM) mapAndFn(name string, args []value.Value) (*value.Map, value.Value, error) {
	m := args[0].AsMap()
	if m == nil {
		return nil, value.Null(), vm.fault(KindTypeError, "%s argument 1 must be a hash map, got %s", name, args[0].TypeName())
	}
	fn, err := vm.argCallable(name, args, 1)
	return m, fn, err
}

func intrinsicMapForEach(vm *VM, args []value.Value) (value.Value, error) {
	m, fn, err := vm.mapAndFn("hashMapForEach", args)
	if err != nil {
		return value.Null(), err
	}
	keys, vals := m.Keys(), m.Values()
	for i := range keys {
		if _, err := vm.callCallback(fn, vals[i].Retain(), keys[i]); err != nil {
			return value.Null(), err
		}
	}
	return value.Null(), nil
}

func intrinsicMapMap(vm *VM, args []value.Value) (value.Value, error) {
	m, fn, err := vm.mapAndFn("hashMapMap", args)
	if err != nil {
		return value.Null(), err
	}
	keys, vals := m.Keys(), m.Values()
	out := value.NewMap()
	for i := range keys {
		r, err := vm.callCallback(fn, vals[i].Retain(), keys[i])
		if err != nil {
			return value.Null(), err
		}
		// Keys came out of a map, so they are hashable.
		out, _ = value.MapPut(out, keys[i], r)
	}
	return out, nil
}

func intrinsicMapFilter(vm *VM, args []value.Value) (value.Value, error) {
	m, fn, err := vm.mapAndFn("hashMapFilter", args)
	if err != nil {
		return value.Null(), err
	}
	keys, vals := m.Keys(), m.Values()
	out := value.NewMap()
	for i := range keys {
		keep, err := vm.callCallback(fn, vals[i].Retain(), keys[i])
		if err != nil {
			return value.Null(), err
		}
		if keep.Truthy() {
			out, _ = value.MapPut(out, keys[i], vals[i].Retain())
		}
	}
	return out, nil
}

func (vm *VM) setAndFn(name string, args []value.Value) ([]value.Value, value.Value, error) {
	s := args[0].AsSet()
	if s == nil {
		return nil, value.Null(), vm.fault(KindTypeError, "%s argument 1 must be a hash set, got %s", name, args[0].TypeName())
	}
	fn, err := vm.argCallable(name, args, 1)
	return s.Members(), fn, err
}

func intrinsicSetForEach(vm *VM, args []value.Value) (value.Value, error) {
	members, fn, err := vm.setAndFn("hashSetForEach", args)
	if err != nil {
		return value.Null(), err
	}
	for _, m := range members {
		if _, err := vm.callCallback(fn, m); err != nil {
			return value.Null(), err
		}
	}
	return value.Null(), nil
}

func intrinsicSetMap(vm *VM, args []value.Value) (value.Value, error) {
	members, fn, err := vm.setAndFn("hashSetMap", args)
	if err != nil {
		return value.Null(), err
	}
	out := make([]value.Value, len(members))
	for i, m := range members {
		if out[i], err = vm.callCallback(fn, m); err != nil {
			return value.Null(), err
		}
	}
	s, err := value.SetFrom(out)
	if err != nil {
		return value.Null(), vm.fault(KindTypeError, "hashSetMap: %v", err)
	}
	return s, nil
}

func intrinsicSetFilter(vm *VM, args []value.Value) (value.Value, error) {
	members, fn, err := vm.setAndFn("hashSetFilter", args)
	if err != nil {
		return value.Null(), err
	}
	var kept []value.Value
	for _, m := range members {
		keep, err := vm.callCallback(fn, m)
		if err != nil {
			return value.Null(), err
		}
		if keep.Truthy() {
			kept = append(kept, m)
		}
	}
	// Members are already hashable.
	s, _ := value.SetFrom(kept)
	return s, nil
}

// ---------------------------------------------------------------------------
// Option and Result
// ---------------------------------------------------------------------------

func (vm *VM) wrapperAndFn(name string, kind value.Kind, args []value.Value) (value.Value, error) {
	if args[0].Kind() != kind {
		return value.Null(), vm.fault(KindTypeError, "%s argument 1 must be %s, got %s", name, kind, args[0].TypeName())
	}
	return vm.argCallable(name, args, 1)
}

func intrinsicOptionMap(vm *VM, args []value.Value) (value.Value, error) {
	fn, err := vm.wrapperAndFn("optionMap", value.KindOption, args)
	if err != nil {
		return value.Null(), err
	}
	p, ok := args[0].OptionPayload()
	if !ok {
		return args[0], nil
	}
	r, err := vm.callCallback(fn, p.Retain())
	if err != nil {
		return value.Null(), err
	}
	return value.Some(r), nil
}

func intrinsicOptionAndThen(vm *VM, args []value.Value) (value.Value, error) {
	fn, err := vm.wrapperAndFn("optionAndThen", value.KindOption, args)
	if err != nil {
		return value.Null(), err
	}
	p, ok := args[0].OptionPayload()
	if !ok {
		return args[0], nil
	}
	r, err := vm.callCallback(fn, p.Retain())
	if err != nil {
		return value.Null(), err
	}
	if r.Kind() != value.KindOption {
		return value.Null(), vm.fault(KindTypeError, "optionAndThen callback must return an option, got %s", r.TypeName())
	}
	return r, nil
}

// resultApply runs fn on the payload when the result's variant is onOk.
// wrap rebuilds the variant; nil means fn must itself return a result.
func (vm *VM) resultApply(name string, args []value.Value, onOk bool, wrap func(value.Value) value.Value) (value.Value, error) {
	fn, err := vm.wrapperAndFn(name, value.KindResult, args)
	if err != nil {
		return value.Null(), err
	}
	p, ok := args[0].ResultPayload()
	if ok != onOk {
		return args[0], nil
	}
	r, err := vm.callCallback(fn, p.Retain())
	if err != nil {
		return value.Null(), err
	}
	if wrap != nil {
		return wrap(r), nil
	}
	if r.Kind() != value.KindResult {
		return value.Null(), vm.fault(KindTypeError, "%s callback must return a result, got %s", name, r.TypeName())
	}
	return r, nil
}

func intrinsicResultMap(vm *VM, args []value.Value) (value.Value, error) {
	return vm.resultApply("resultMap", args, true, value.Ok)
}

func intrinsicResultMapErr(vm *VM, args []value.Value) (value.Value, error) {
	return vm.resultApply("resultMapErr", args, false, value.Err)
}

func intrinsicResultAndThen(vm *VM, args []value.Value) (value.Value, error) {
	return vm.resultApply("resultAndThen", args, true, nil)
}

func intrinsicResultOrElse(vm *VM, args []value.Value) (value.Value, error) {
	return vm.resultApply("resultOrElse", args, false, nil)
}

// ---------------------------------------------------------------------------
// Regex
// ---------------------------------------------------------------------------

// regexReplacer replaces up to limit matches (all when negative) with the
// string the callback returns for each match value.
func regexReplacer(name string, limit int) func(*VM, []value.Value) (value.Value, error) {
	return func(vm *VM, args []value.Value) (value.Value, error) {
		re, err := stdlib.ArgRegex(name, args, 0)
		if err != nil {
			return value.Null(), vm.libraryFault(err)
		}
		s, ok := args[1].AsString()
		if !ok {
			return value.Null(), vm.fault(KindTypeError, "%s argument 2 must be a string, got %s", name, args[1].TypeName())
		}
		fn, err := vm.argCallable(name, args, 2)
		if err != nil {
			return value.Null(), err
		}
		matches, err := re.FindAll(s, limit)
		if err != nil {
			return value.Null(), vm.wrapFault(KindTypeError, err)
		}

		runes := []rune(s)
		var b strings.Builder
		prev := 0
		for _, m := range matches {
			r, err := vm.callCallback(fn, stdlib.MatchValue(m))
			if err != nil {
				return value.Null(), err
			}
			repl, ok := r.AsString()
			if !ok {
				return value.Null(), vm.fault(KindTypeError, "%s callback must return a string, got %s", name, r.TypeName())
			}
			b.WriteString(string(runes[prev:m.Start]))
			b.WriteString(repl)
			prev = m.End
		}
		b.WriteString(string(runes[prev:]))
		return value.String(b.String()), nil
	}
}
