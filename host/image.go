package host

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/chazu/vmrt/image"
	"github.com/chazu/vmrt/vm"
)

// FromImage builds a registry holding the metadata of img, binding method
// bodies by builtin name. The data section is mapped at img.DataBase.
func FromImage(img *image.Image, builtins Builtins) (*Registry, error) {
	r := NewRegistry()

	decls := make(map[int32]image.TypeDecl, len(img.Types))
	for _, d := range img.Types {
		var t *Type
		switch d.Kind {
		case image.KindClass:
			t = NewClass(d.Name, r.object)
		case image.KindStruct:
			t = NewStruct(d.Name)
		case image.KindEnum:
			t = &Type{name: d.Name, kind: vm.KindEnum}
		case image.KindRef:
			t = &Type{name: d.Name, kind: vm.KindRef}
		case image.KindPointer:
			t = &Type{name: d.Name, kind: vm.KindPointer}
		default:
			return nil, fmt.Errorf("host: type %#x: unknown kind %q", d.Token, d.Kind)
		}
		if err := r.DefineType(d.Token, t); err != nil {
			return nil, err
		}
		decls[d.Token] = d
	}

	// Link bases and element types once every token is known.
	for token, d := range decls {
		t := r.types[token].(*Type)
		if d.Base != 0 {
			base, ok := r.types[d.Base].(*Type)
			if !ok || base.kind != vm.KindObject || t.kind != vm.KindObject {
				return nil, fmt.Errorf("host: type %s: invalid base %#x", t, d.Base)
			}
			t.base = base
		}
		if d.Elem != 0 {
			elem, err := r.ResolveType(d.Elem)
			if err != nil {
				return nil, fmt.Errorf("host: type %s: %w", t, err)
			}
			if t.kind == vm.KindEnum && !elem.Kind().IsInteger() {
				return nil, fmt.Errorf("host: enum %s over non-integer %s", t, elem.Name())
			}
			t.elem = elem
		}
		if t.name == "" && t.elem != nil {
			switch t.kind {
			case vm.KindRef:
				t.name = typeName(t.elem) + "&"
			case vm.KindPointer:
				t.name = typeName(t.elem) + "*"
			}
		}
	}
	for _, t := range r.types {
		if ht, ok := t.(*Type); ok && ht.kind == vm.KindObject && hasCycle(ht) {
			return nil, fmt.Errorf("host: class %s inherits from itself", ht)
		}
	}

	if err := r.loadFields(img.Fields); err != nil {
		return nil, err
	}
	if err := r.loadMethods(img.Methods, builtins); err != nil {
		return nil, err
	}
	for token, s := range img.Strings {
		if err := r.DefineString(token, s); err != nil {
			return nil, err
		}
	}
	if len(img.Data) > 0 {
		if err := r.MapMemory(img.DataBase, slices.Clone(img.Data)); err != nil {
			return nil, err
		}
	}

	log.Infof("loaded image: %d types, %d methods, %d fields, %d strings",
		len(img.Types), len(img.Methods), len(img.Fields), len(img.Strings))
	return r, nil
}

func hasCycle(t *Type) bool {
	slow, fast := t, t
	for fast != nil && fast.base != nil {
		slow, fast = slow.base, fast.base.base
		if slow == fast {
			return true
		}
	}
	return false
}

func depth(t *Type) int {
	n := 0
	for c := t.base; c != nil; c = c.base {
		n++
	}
	return n
}

func (r *Registry) owner(token int32) (*Type, error) {
	t, ok := r.types[token].(*Type)
	if !ok || (t.kind != vm.KindObject && t.kind != vm.KindAggregate) {
		return nil, fmt.Errorf("host: %#x is not a class or struct", token)
	}
	return t, nil
}

// optionalType resolves token, treating 0 as absent.
func (r *Registry) optionalType(token int32) (vm.Type, error) {
	if token == 0 {
		return nil, nil
	}
	return r.ResolveType(token)
}

// loadFields defines fields so that base class fields are numbered before
// the fields of derived classes.
func (r *Registry) loadFields(decls []image.FieldDecl) error {
	type pending struct {
		decl  image.FieldDecl
		owner *Type
		depth int
	}
	fields := make([]pending, 0, len(decls))
	for _, d := range decls {
		owner, err := r.owner(d.Owner)
		if err != nil {
			return fmt.Errorf("field %s: %w", d.Name, err)
		}
		fields = append(fields, pending{decl: d, owner: owner, depth: depth(owner)})
	}
	slices.SortStableFunc(fields, func(a, b pending) int { return cmp.Compare(a.depth, b.depth) })

	for _, f := range fields {
		typ, err := r.ResolveType(f.decl.Type)
		if err != nil {
			return fmt.Errorf("field %s: %w", f.decl.Name, err)
		}
		if _, err := r.DefineField(f.decl.Token, f.owner, f.decl.Name, typ, f.decl.Static); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) loadMethods(decls []image.MethodDecl, builtins Builtins) error {
	for _, d := range decls {
		owner, err := r.owner(d.Owner)
		if err != nil {
			return fmt.Errorf("method %s: %w", d.Name, err)
		}
		params := make([]vm.Type, len(d.Params))
		for i, p := range d.Params {
			if params[i], err = r.ResolveType(p); err != nil {
				return fmt.Errorf("method %s.%s: param %d: %w", owner, d.Name, i, err)
			}
		}
		ret, err := r.optionalType(d.Return)
		if err != nil {
			return fmt.Errorf("method %s.%s: return: %w", owner, d.Name, err)
		}

		var flags MethodFlags
		if d.Static {
			flags |= Static
		}
		if d.Virtual {
			flags |= Virtual
		}
		if d.Ctor {
			flags |= Constructor
		}

		var body Func
		if d.Builtin != "" {
			var ok bool
			if body, ok = builtins[d.Builtin]; !ok {
				return fmt.Errorf("method %s.%s: unknown builtin %q", owner, d.Name, d.Builtin)
			}
		}
		if err := r.DefineMethod(d.Token, NewMethod(owner, d.Name, flags, params, ret, body)); err != nil {
			return err
		}
	}
	return nil
}
