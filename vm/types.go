package vm

// primitiveType is a built-in Type for the fixed-width kinds.
type primitiveType struct {
	name string
	kind Kind
}

func (t *primitiveType) Name() string { return t.name }
func (t *primitiveType) Kind() Kind   { return t.kind }
func (t *primitiveType) Elem() Type   { return nil }

var primitives = func() map[Kind]Type {
	m := make(map[Kind]Type)
	for _, k := range []Kind{
		KindBool, KindChar, KindInt8, KindUint8, KindInt16, KindUint16,
		KindInt32, KindUint32, KindInt64, KindUint64, KindFloat32, KindFloat64,
		KindNativeInt, KindNativeUint, KindString, KindObject,
	} {
		m[k] = &primitiveType{name: k.String(), kind: k}
	}
	return m
}()

// Primitive returns the built-in Type for a primitive kind, or nil.
// Hosts may return these from ResolveType.
func Primitive(k Kind) Type {
	return primitives[k]
}
