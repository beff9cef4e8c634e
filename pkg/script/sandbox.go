package script

import (
	"fmt"

	"github.com/dop251/goja"
)

// hostGlobals are names a script might expect from a host environment.
// None of them exist in goja, they are pinned to undefined so a script cannot
// define them for later rows either.
var hostGlobals = []string{
	"require",
	"module",
	"exports",
	"process",
	"global",
	"__dirname",
	"__filename",
	"Buffer",
	"setImmediate",
	"clearImmediate",
	"setTimeout",
	"setInterval",
}

var frozenBuiltins = []string{
	"Object",
	"Array",
	"Function",
	"String",
	"Number",
	"Boolean",
	"Date",
	"RegExp",
	"Error",
	"Math",
	"JSON",
}

const freezeScript = `
	(function(obj) {
		if (obj && (typeof obj === 'object' || typeof obj === 'function')) {
			Object.freeze(obj);
			if (obj.prototype) {
				Object.freeze(obj.prototype);
			}
		}
	})
`

// sandbox applies the restrictions of one security level to new runtimes
type sandbox struct {
	level         string
	maxStackDepth int
}

func newSandbox(cfg Config) *sandbox {
	return &sandbox{level: cfg.SecurityLevel, maxStackDepth: cfg.MaxStackDepth}
}

// apply locks down vm. It must run before any user program.
func (s *sandbox) apply(vm *goja.Runtime) error {
	vm.SetMaxCallStackSize(s.maxStackDepth)

	for _, name := range hostGlobals {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}

	if s.level == SecurityLevelStrict {
		forbid := func(name string) func(goja.FunctionCall) goja.Value {
			return func(goja.FunctionCall) goja.Value {
				panic(vm.NewGoError(newSecurityError(name + " is not allowed in strict security mode")))
			}
		}
		if err := vm.Set("eval", forbid("eval")); err != nil {
			return fmt.Errorf("failed to restrict eval: %w", err)
		}
	}

	if s.level == SecurityLevelPermissive {
		return nil
	}
	return s.freezeBuiltins(vm)
}

func (s *sandbox) freezeBuiltins(vm *goja.Runtime) error {
	val, err := vm.RunString(freezeScript)
	if err != nil {
		return fmt.Errorf("failed to create freeze function: %w", err)
	}
	freeze, ok := goja.AssertFunction(val)
	if !ok {
		return fmt.Errorf("freeze function is not a function")
	}
	for _, name := range frozenBuiltins {
		obj := vm.Get(name)
		if obj == nil || goja.IsUndefined(obj) {
			continue
		}
		if _, err := freeze(goja.Undefined(), obj); err != nil {
			return fmt.Errorf("failed to freeze %s: %w", name, err)
		}
	}
	return nil
}
