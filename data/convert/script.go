// Package convert holds optional data.Registry converters that are not
// part of the predefined scalar set: a JavaScript-expression converter
// and a Go-template converter, both exercising bodies of script/template
// text supplied by applications rather than fixed Go code, matching how
// the workflow engine this module continues let node authors transform
// data with embedded scripts and templates.
package convert

import (
	"encoding/json"
	"fmt"

	"github.com/dop251/goja"

	"github.com/redpesk-core/go-binder/data"
)

// ScriptConverter compiles a JavaScript program once and runs it for
// every conversion, binding the input value's JSON decoding to the
// global "input" and expecting the script's last expression (or an
// explicit "output" global) to hold the JSON-encodable result.
type ScriptConverter struct {
	program *goja.Program
}

// NewScriptConverter parses src as JavaScript. It does not execute it;
// compilation errors surface immediately instead of on first Convert.
func NewScriptConverter(name, src string) (*ScriptConverter, error) {
	prog, err := goja.Compile(name, src, false)
	if err != nil {
		return nil, fmt.Errorf("convert: compile script: %w", err)
	}
	return &ScriptConverter{program: prog}, nil
}

// Func returns a data.ConvertFunc that runs the script against in's
// bytes, interpreted as JSON, and produces a Value of outType holding
// the JSON encoding of the script's result.
func (s *ScriptConverter) Func(reg *data.Registry, outType *data.Type) data.ConvertFunc {
	return func(in *Value) (*data.Value, error) {
		return s.convert(reg, outType, in)
	}
}

// Value is a local alias kept so this file's exported signature matches
// data.ConvertFunc without importing data twice under two names.
type Value = data.Value

func (s *ScriptConverter) convert(reg *data.Registry, outType *data.Type, in *Value) (*data.Value, error) {
	var input any
	if b := in.Bytes(); len(b) > 0 {
		if err := json.Unmarshal(b, &input); err != nil {
			input = string(b)
		}
	}

	vm := goja.New()
	if err := registerHelpers(vm); err != nil {
		return nil, fmt.Errorf("convert: script setup: %w", err)
	}
	if err := vm.Set("input", input); err != nil {
		return nil, fmt.Errorf("convert: script setup: %w", err)
	}

	res, err := vm.RunProgram(s.program)
	if err != nil {
		return nil, fmt.Errorf("convert: script run: %w", err)
	}

	out := res.Export()
	if ov := vm.Get("output"); ov != nil && !goja.IsUndefined(ov) {
		out = ov.Export()
	}

	encoded, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("convert: script result not JSON-encodable: %w", err)
	}
	return reg.Copy(outType, encoded)
}

// registerHelpers mirrors the small set of JS convenience globals the
// teacher's goja setup registers, scoped to what a pure data converter
// needs: no network access, since converters run under a registry lock
// discipline that an outbound HTTP call could stall indefinitely.
func registerHelpers(vm *goja.Runtime) error {
	if err := vm.Set("toString", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return vm.ToValue("")
		}
		switch v := call.Arguments[0].Export().(type) {
		case []byte:
			return vm.ToValue(string(v))
		default:
			return vm.ToValue(fmt.Sprintf("%v", v))
		}
	}); err != nil {
		return err
	}
	return vm.Set("jsonStringify", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return vm.ToValue("")
		}
		b, err := json.Marshal(call.Arguments[0].Export())
		if err != nil {
			return vm.ToValue("")
		}
		return vm.ToValue(string(b))
	})
}
