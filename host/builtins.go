package host

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"unicode/utf8"

	"github.com/chazu/vmrt/vm"
)

// Builtins maps the builtin names used by image method declarations to
// their Go bodies.
type Builtins map[string]Func

// withArgs guards a body that reads its first n arguments.
func withArgs(n int, body Func) Func {
	return func(this vm.Value, args []vm.Value) (vm.Value, error) {
		if len(args) < n {
			return vm.Void, fmt.Errorf("%w: got %d, want %d", ErrArity, len(args), n)
		}
		return body(this, args)
	}
}

// StandardBuiltins returns the bodies every image may bind to.
func StandardBuiltins() Builtins {
	return Builtins{
		"object.ctor": func(vm.Value, []vm.Value) (vm.Value, error) {
			return vm.Void, nil
		},
		"object.tostring": func(this vm.Value, _ []vm.Value) (vm.Value, error) {
			if o, ok := this.Object().(*Object); ok {
				return vm.FromString(o.String()), nil
			}
			return vm.FromString(this.String()), nil
		},
		"exception.ctor": func(this vm.Value, args []vm.Value) (vm.Value, error) {
			if o, ok := this.Object().(*Object); ok && len(args) > 0 {
				o.Message = args[0].Str()
			}
			return vm.Void, nil
		},
		"exception.message": func(this vm.Value, _ []vm.Value) (vm.Value, error) {
			return vm.FromString(Message(this)), nil
		},
		"string.concat": withArgs(2, func(_ vm.Value, args []vm.Value) (vm.Value, error) {
			return vm.FromString(args[0].Str() + args[1].Str()), nil
		}),
		"string.length": withArgs(1, func(_ vm.Value, args []vm.Value) (vm.Value, error) {
			if args[0].IsNull() {
				return vm.Void, vm.ErrNullReference
			}
			return vm.FromInt32(int32(utf8.RuneCountInString(args[0].Str()))), nil
		}),
		"string.equals": withArgs(2, func(_ vm.Value, args []vm.Value) (vm.Value, error) {
			return vm.FromBool(args[0].Str() == args[1].Str()), nil
		}),
		"string.fromint": withArgs(1, func(_ vm.Value, args []vm.Value) (vm.Value, error) {
			return vm.FromString(strconv.FormatInt(args[0].Int64(), 10)), nil
		}),
		"string.parseint": withArgs(1, func(_ vm.Value, args []vm.Value) (vm.Value, error) {
			n, err := strconv.ParseInt(args[0].Str(), 10, 32)
			if err != nil {
				return vm.Void, err
			}
			return vm.FromInt32(int32(n)), nil
		}),
		"math.sqrt": withArgs(1, func(_ vm.Value, args []vm.Value) (vm.Value, error) {
			return vm.FromFloat64(math.Sqrt(args[0].Float64())), nil
		}),
		"math.abs": withArgs(1, func(_ vm.Value, args []vm.Value) (vm.Value, error) {
			n := args[0].Int64()
			if n == math.MinInt64 {
				return vm.Void, vm.ErrOverflow
			}
			if n < 0 {
				n = -n
			}
			return vm.FromInt64(n), nil
		}),
		"runtime.fail": func(_ vm.Value, args []vm.Value) (vm.Value, error) {
			msg := "failure"
			if len(args) > 0 && !args[0].IsNull() {
				msg = args[0].Str()
			}
			return vm.Void, errors.New(msg)
		},
	}
}
