// Package image defines the on-disk container for a virtualized program: the
// code section the interpreter executes, an optional data section mapped into
// host memory, the metadata tables a host uses to resolve tokens, and the
// exported routine entries.
package image

import (
	"crypto/sha256"
	"fmt"
	"os"
	"sort"

	"github.com/fxamacker/cbor/v2"
)

// Version is the container format version written by Marshal.
const Version = 1

// TypeKind names the shape of a declared host type.
type TypeKind string

const (
	KindClass   TypeKind = "class"
	KindStruct  TypeKind = "struct"
	KindEnum    TypeKind = "enum"
	KindRef     TypeKind = "ref"
	KindPointer TypeKind = "pointer"
)

// Image is a complete virtualized program.
type Image struct {
	Version  int            `cbor:"1,keyasint"`
	Code     []byte         `cbor:"2,keyasint"`
	Digest   [32]byte       `cbor:"3,keyasint"`
	Data     []byte         `cbor:"4,keyasint,omitempty"`
	DataBase uint64         `cbor:"5,keyasint,omitempty"`
	Entries  map[string]int `cbor:"6,keyasint,omitempty"`

	Types   []TypeDecl       `cbor:"7,keyasint,omitempty"`
	Methods []MethodDecl     `cbor:"8,keyasint,omitempty"`
	Fields  []FieldDecl      `cbor:"9,keyasint,omitempty"`
	Strings map[int32]string `cbor:"10,keyasint,omitempty"`
}

// TypeDecl declares a host type under a token. Base is the base class token
// of a class; Elem is the underlying type of an enum or the target of a ref
// or pointer type.
type TypeDecl struct {
	Token int32    `cbor:"1,keyasint"`
	Name  string   `cbor:"2,keyasint"`
	Kind  TypeKind `cbor:"3,keyasint"`
	Base  int32    `cbor:"4,keyasint,omitempty"`
	Elem  int32    `cbor:"5,keyasint,omitempty"`
}

// MethodDecl declares a method of the type Owner. Builtin names the host
// function that implements it.
type MethodDecl struct {
	Token   int32   `cbor:"1,keyasint"`
	Name    string  `cbor:"2,keyasint"`
	Owner   int32   `cbor:"3,keyasint"`
	Params  []int32 `cbor:"4,keyasint,omitempty"`
	Return  int32   `cbor:"5,keyasint,omitempty"`
	Static  bool    `cbor:"6,keyasint,omitempty"`
	Virtual bool    `cbor:"7,keyasint,omitempty"`
	Ctor    bool    `cbor:"8,keyasint,omitempty"`
	Builtin string  `cbor:"9,keyasint,omitempty"`
}

// FieldDecl declares a field of the class or struct Owner.
type FieldDecl struct {
	Token  int32  `cbor:"1,keyasint"`
	Name   string `cbor:"2,keyasint"`
	Owner  int32  `cbor:"3,keyasint"`
	Type   int32  `cbor:"4,keyasint"`
	Static bool   `cbor:"5,keyasint,omitempty"`
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("image: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Seal stamps the format version and the code digest.
func (img *Image) Seal() {
	img.Version = Version
	img.Digest = sha256.Sum256(img.Code)
}

// Verify checks the format version and that the code section matches its
// digest.
func (img *Image) Verify() error {
	if img.Version != Version {
		return fmt.Errorf("image: unsupported version %d", img.Version)
	}
	if sha256.Sum256(img.Code) != img.Digest {
		return fmt.Errorf("image: code digest mismatch")
	}
	return nil
}

// Entry returns the code offset of an exported routine.
func (img *Image) Entry(name string) (int, bool) {
	off, ok := img.Entries[name]
	return off, ok
}

// EntryNames returns the exported routine names in sorted order.
func (img *Image) EntryNames() []string {
	names := make([]string, 0, len(img.Entries))
	for name := range img.Entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Marshal seals img and serializes it to canonical CBOR.
func Marshal(img *Image) ([]byte, error) {
	img.Seal()
	return cborEncMode.Marshal(img)
}

// Unmarshal deserializes and verifies an image.
func Unmarshal(data []byte) (*Image, error) {
	var img Image
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("image: unmarshal: %w", err)
	}
	if err := img.Verify(); err != nil {
		return nil, err
	}
	return &img, nil
}

// Load reads an image file.
func Load(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	img, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// Save writes img to path.
func Save(path string, img *Image) error {
	data, err := Marshal(img)
	if err != nil {
		return fmt.Errorf("image: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	return nil
}
