package minifier

import (
	"fmt"
	"os"

	"github.com/dop251/goja"
	"github.com/wehubfusion/terser/pkg/minification"
	"go.uber.org/zap"
)

// entrySource wraps the library call so that synchronous throws and synchronous
// results both surface as a promise.
const entrySource = `(function (code, options) {
	return new Promise(function (resolve) {
		resolve(Terser.minify(code, JSON.parse(options)));
	});
})`

var entryProgram = goja.MustCompile("terser-entry.js", entrySource, false)

// engine is a runtime with the Terser library loaded. It is owned by one goroutine.
type engine struct {
	vm        *goja.Runtime
	loop      *eventLoop
	entry     goja.Callable
	stringify goja.Callable
}

// newEngine builds a runtime for ctx: host bindings, the optional source-map library,
// the Terser library and the entry function.
func newEngine(ctx *minification.Context, logger *zap.Logger) (*engine, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.UncapFieldNameMapper())

	e := &engine{
		vm:   vm,
		loop: newEventLoop(),
	}

	if err := e.loop.install(vm); err != nil {
		e.close()
		return nil, minification.NewEngineError("failed to install timers", err)
	}
	if err := installConsole(vm, logger); err != nil {
		e.close()
		return nil, minification.NewEngineError("failed to install console", err)
	}

	if ctx.HasSourceMapSource() {
		if err := e.load(ctx.SourceMapSource); err != nil {
			e.close()
			return nil, err
		}
	}
	if err := e.load(ctx.TerserSource); err != nil {
		e.close()
		return nil, err
	}

	entry, err := vm.RunProgram(entryProgram)
	if err != nil {
		e.close()
		return nil, minification.NewEngineError("failed to create entry function", err)
	}
	fn, ok := goja.AssertFunction(entry)
	if !ok {
		e.close()
		return nil, minification.NewEngineError("entry is not a function", nil)
	}
	e.entry = fn

	stringify, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("stringify"))
	if !ok {
		e.close()
		return nil, minification.NewEngineError("JSON.stringify is not a function", nil)
	}
	e.stringify = stringify

	if !isFunction(vm, "Terser.minify") {
		e.close()
		return nil, minification.NewEngineError(
			fmt.Sprintf("%s does not expose Terser.minify", ctx.TerserSource), nil)
	}

	return e, nil
}

// load evaluates the library at path once.
func (e *engine) load(path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return minification.NewConfigError(path, "library is not readable", err)
	}

	program, err := goja.Compile(path, string(src), false)
	if err != nil {
		return exceptionToError("failed to compile "+path, err)
	}
	if _, err := e.vm.RunProgram(program); err != nil {
		return exceptionToError("failed to evaluate "+path, err)
	}

	return nil
}

// interrupt stops running JavaScript; safe to call from another goroutine.
func (e *engine) interrupt(reason string) {
	if e.vm != nil {
		e.vm.Interrupt(reason)
	}
}

func (e *engine) close() {
	if e == nil || e.vm == nil {
		return
	}
	e.loop.Close()
	e.vm.Interrupt("engine closed")
	e.vm = nil
}

func isFunction(vm *goja.Runtime, expr string) bool {
	v, err := vm.RunString("typeof " + expr + " === 'function'")
	return err == nil && v.ToBoolean()
}

// installConsole routes console output of the library to the worker's logger.
func installConsole(vm *goja.Runtime, logger *zap.Logger) error {
	console := vm.NewObject()
	write := func(level func(string, ...zap.Field)) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			args := make([]interface{}, len(call.Arguments))
			for i, a := range call.Arguments {
				args[i] = a.Export()
			}
			level("console", zap.Any("args", args))
			return goja.Undefined()
		}
	}

	for name, level := range map[string]func(string, ...zap.Field){
		"log":   logger.Info,
		"info":  logger.Info,
		"debug": logger.Debug,
		"warn":  logger.Warn,
		"error": logger.Error,
	} {
		if err := console.Set(name, write(level)); err != nil {
			return err
		}
	}

	return vm.Set("console", console)
}
