package value

import "fmt"

// Array is the shared backing store of an array value.
//
// refs approximates the number of holders. It starts at one for a freshly
// built array and is raised by Retain whenever the VM copies the value out
// of a binding. It may overcount but never undercounts, so a write through
// an array with refs > 1 always clones first.
type Array struct {
	elems []Value
	refs  int32
}

// NewArray wraps elems without copying them. The caller hands over the slice.
func NewArray(elems []Value) Value {
	return Value{kind: KindArray, ref: &Array{elems: elems, refs: 1}}
}

// Len returns the number of elements.
func (a *Array) Len() int {
	if a == nil {
		return 0
	}
	return len(a.elems)
}

// At returns element i. The caller bounds-checks.
func (a *Array) At(i int) Value { return a.elems[i] }

// Elements returns the backing slice. Callers must not modify it.
func (a *Array) Elements() []Value { return a.elems }

// Refs returns the current holder count.
func (a *Array) Refs() int32 { return a.refs }

// writable returns an array safe to mutate in place: a itself when it has a
// single holder, otherwise a private clone. Cloning drops the caller's hold
// on the original.
func (a *Array) writable() *Array {
	if a.refs <= 1 {
		return a
	}
	a.refs--
	elems := make([]Value, len(a.elems), len(a.elems)+1)
	copy(elems, a.elems)
	return &Array{elems: elems, refs: 1}
}

// ArraySet returns arr with element i replaced by elem, cloning the backing
// store first if any other holder can observe it.
func ArraySet(arr Value, i int, elem Value) Value {
	a := arr.AsArray().writable()
	a.elems[i] = elem
	return Value{kind: KindArray, ref: a}
}

// ArrayPush returns arr with elem appended, copy-on-write.
func ArrayPush(arr Value, elem Value) Value {
	a := arr.AsArray().writable()
	a.elems = append(a.elems, elem)
	return Value{kind: KindArray, ref: a}
}

// ArrayPop returns arr without its last element and that element.
func ArrayPop(arr Value) (Value, Value, bool) {
	src := arr.AsArray()
	if src.Len() == 0 {
		return arr, Null(), false
	}
	a := src.writable()
	last := a.elems[len(a.elems)-1]
	a.elems = a.elems[:len(a.elems)-1]
	return Value{kind: KindArray, ref: a}, last, true
}

// Key is the hashable projection of a scalar value used by maps and sets.
type Key struct {
	kind Kind
	b    bool
	num  float64
	str  string
}

// KeyOf returns the hash key for v. Only null, bools, numbers and strings
// are hashable.
func KeyOf(v Value) (Key, error) {
	switch v.kind {
	case KindNull:
		return Key{kind: KindNull}, nil
	case KindBool:
		return Key{kind: KindBool, b: v.b}, nil
	case KindNumber:
		return Key{kind: KindNumber, num: v.num}, nil
	case KindString:
		return Key{kind: KindString, str: v.str}, nil
	}
	return Key{}, fmt.Errorf("%s is not hashable", v.TypeName())
}

type mapEntry struct {
	key Value
	val Value
}

// Map is the shared backing store of a hashmap value. Iteration follows
// insertion order.
type Map struct {
	entries map[Key]mapEntry
	order   []Key
	refs    int32
}

// NewMap returns an empty hashmap.
func NewMap() Value {
	return Value{kind: KindMap, ref: &Map{entries: make(map[Key]mapEntry), refs: 1}}
}

func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.order)
}

// Get looks up key.
func (m *Map) Get(key Value) (Value, bool) {
	k, err := KeyOf(key)
	if err != nil {
		return Null(), false
	}
	e, ok := m.entries[k]
	return e.val, ok
}

// Keys returns the keys in insertion order.
func (m *Map) Keys() []Value {
	out := make([]Value, len(m.order))
	for i, k := range m.order {
		out[i] = m.entries[k].key
	}
	return out
}

// Values returns the values in insertion order.
func (m *Map) Values() []Value {
	out := make([]Value, len(m.order))
	for i, k := range m.order {
		out[i] = m.entries[k].val
	}
	return out
}

func (m *Map) writable() *Map {
	if m.refs <= 1 {
		return m
	}
	m.refs--
	c := &Map{entries: make(map[Key]mapEntry, len(m.entries)), order: make([]Key, len(m.order)), refs: 1}
	for k, e := range m.entries {
		c.entries[k] = e
	}
	copy(c.order, m.order)
	return c
}

// MapPut returns m with key bound to val, copy-on-write.
func MapPut(m Value, key, val Value) (Value, error) {
	k, err := KeyOf(key)
	if err != nil {
		return m, err
	}
	w := m.AsMap().writable()
	if _, exists := w.entries[k]; !exists {
		w.order = append(w.order, k)
	}
	w.entries[k] = mapEntry{key: key, val: val}
	return Value{kind: KindMap, ref: w}, nil
}

// MapRemove returns m without key and the removed value, if any.
func MapRemove(m Value, key Value) (Value, Value, bool) {
	k, err := KeyOf(key)
	if err != nil {
		return m, Null(), false
	}
	src := m.AsMap()
	old, ok := src.entries[k]
	if !ok {
		return m, Null(), false
	}
	w := src.writable()
	delete(w.entries, k)
	w.order = removeKey(w.order, k)
	return Value{kind: KindMap, ref: w}, old.val, true
}

// Set is the shared backing store of a hashset value.
type Set struct {
	members map[Key]Value
	order   []Key
	refs    int32
}

// NewSet returns an empty hashset.
func NewSet() Value {
	return Value{kind: KindSet, ref: &Set{members: make(map[Key]Value), refs: 1}}
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Has reports membership.
func (s *Set) Has(v Value) bool {
	k, err := KeyOf(v)
	if err != nil {
		return false
	}
	_, ok := s.members[k]
	return ok
}

// Members returns the elements in insertion order.
func (s *Set) Members() []Value {
	out := make([]Value, len(s.order))
	for i, k := range s.order {
		out[i] = s.members[k]
	}
	return out
}

func (s *Set) writable() *Set {
	if s.refs <= 1 {
		return s
	}
	s.refs--
	c := &Set{members: make(map[Key]Value, len(s.members)), order: make([]Key, len(s.order)), refs: 1}
	for k, v := range s.members {
		c.members[k] = v
	}
	copy(c.order, s.order)
	return c
}

// SetAdd returns s with v added, copy-on-write.
func SetAdd(s Value, v Value) (Value, error) {
	k, err := KeyOf(v)
	if err != nil {
		return s, err
	}
	src := s.AsSet()
	if _, ok := src.members[k]; ok {
		return s, nil
	}
	w := src.writable()
	w.members[k] = v
	w.order = append(w.order, k)
	return Value{kind: KindSet, ref: w}, nil
}

// SetRemove returns s without v and whether it was present.
func SetRemove(s Value, v Value) (Value, bool) {
	k, err := KeyOf(v)
	if err != nil {
		return s, false
	}
	src := s.AsSet()
	if _, ok := src.members[k]; !ok {
		return s, false
	}
	w := src.writable()
	delete(w.members, k)
	w.order = removeKey(w.order, k)
	return Value{kind: KindSet, ref: w}, true
}

// SetFrom builds a set from vals, ignoring duplicates.
func SetFrom(vals []Value) (Value, error) {
	s := NewSet()
	var err error
	for _, v := range vals {
		if s, err = SetAdd(s, v); err != nil {
			return Null(), err
		}
	}
	return s, nil
}

func removeKey(order []Key, k Key) []Key {
	for i, o := range order {
		if o == k {
			return append(order[:i:i], order[i+1:]...)
		}
	}
	return order
}

// Shared is an explicitly shared mutable cell (shared<T>). Unlike
// collections it has reference semantics: every holder sees writes.
type Shared struct {
	v Value
}

// NewShared wraps v in a shared cell.
func NewShared(v Value) Value {
	return Value{kind: KindShared, ref: &Shared{v: v}}
}

func (s *Shared) Get() Value  { return s.v }
func (s *Shared) Set(v Value) { s.v = v }
