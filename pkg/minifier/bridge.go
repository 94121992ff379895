package minifier

import (
	"context"
	"errors"

	"github.com/dop251/goja"
	"github.com/tidwall/gjson"
	"github.com/wehubfusion/terser/pkg/minification"
)

// output is the decoded value of a fulfilled minification.
type output struct {
	code      string
	sourceMap string
	hasMap    bool
}

// settlement is delivered exactly once by either continuation.
type settlement struct {
	value    goja.Value
	rejected bool
}

// awaitResult calls the entry function and blocks until its promise settles, the
// engine has no work left that could settle it, or ctx is done. Timer callbacks are
// run here, on the goroutine that owns the engine.
func awaitResult(ctx context.Context, e *engine, source, code, options string) (output, error) {
	vm := e.vm

	promise, err := e.entry(goja.Undefined(), vm.ToValue(code), vm.ToValue(options))
	if err != nil {
		return output{}, callError(ctx, source, err)
	}

	settled := make(chan settlement, 1)
	if err := subscribe(vm, promise, settled); err != nil {
		return output{}, callError(ctx, source, err)
	}

	for {
		select {
		case s := <-settled:
			return settle(e, source, s)
		default:
		}

		if err := e.loop.TakeErr(); err != nil {
			return output{}, timerError(ctx, source, err)
		}
		if ctx.Err() != nil {
			return output{}, minification.NewTimeoutError(source, ctx.Err())
		}
		if e.loop.Pending() == 0 {
			return output{}, minification.NewConversionError(source,
				"promise is pending with no scheduled work", "", nil)
		}

		select {
		case s := <-settled:
			return settle(e, source, s)
		case task := <-e.loop.Tasks():
			task()
		case <-ctx.Done():
			return output{}, minification.NewTimeoutError(source, ctx.Err())
		}
	}
}

// subscribe registers both continuations on the thenable returned by the entry function.
// Reactions of an already settled promise run when the call to then returns.
func subscribe(vm *goja.Runtime, promise goja.Value, settled chan<- settlement) error {
	obj, ok := promise.(*goja.Object)
	if !ok {
		return errors.New("minify did not return a promise")
	}
	then, ok := goja.AssertFunction(obj.Get("then"))
	if !ok {
		return errors.New("minify did not return a thenable")
	}

	deliver := func(rejected bool) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			select {
			case settled <- settlement{value: call.Argument(0), rejected: rejected}:
			default:
			}
			return goja.Undefined()
		}
	}

	_, err := then(obj, vm.ToValue(deliver(false)), vm.ToValue(deliver(true)))
	return err
}

// settle turns a settlement into the result fields.
func settle(e *engine, source string, s settlement) (output, error) {
	if s.rejected {
		return output{}, minification.NewConversionError(source,
			"minification rejected: "+rejectionMessage(e.vm, s.value), "", nil)
	}

	raw, err := e.stringify(goja.Undefined(), s.value)
	if err != nil {
		return output{}, minification.NewConversionError(source, "result is not serializable", valueString(s.value), err)
	}
	if raw == nil || goja.IsUndefined(raw) {
		return output{}, minification.NewConversionError(source, "result is not an object", valueString(s.value), nil)
	}

	payload := raw.String()
	result := gjson.Parse(payload)
	if !result.IsObject() {
		return output{}, minification.NewConversionError(source, "result is not an object", payload, nil)
	}

	code := result.Get("code")
	if code.Type != gjson.String {
		return output{}, minification.NewConversionError(source, "result has no code", payload, nil)
	}

	out := output{code: code.String()}
	switch m := result.Get("map"); {
	case m.Type == gjson.String:
		out.sourceMap, out.hasMap = m.String(), true
	case m.IsObject():
		out.sourceMap, out.hasMap = m.Raw, true
	}

	return out, nil
}

// callError classifies a failure of a direct call into the engine.
func callError(ctx context.Context, source string, err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) || ctx.Err() != nil {
		return minification.NewTimeoutError(source, err)
	}
	return minification.NewConversionError(source, "failed to call minify", "", err)
}

// timerError classifies an exception thrown by a timer callback.
func timerError(ctx context.Context, source string, err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) || ctx.Err() != nil {
		return minification.NewTimeoutError(source, err)
	}
	return minification.NewConversionError(source, "timer callback failed", "", err)
}

func valueString(v goja.Value) string {
	if v == nil {
		return ""
	}
	return v.String()
}
