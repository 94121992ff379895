package minifier

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/dop251/goja"
	"github.com/wehubfusion/terser/pkg/minification"
)

var locationPattern = regexp.MustCompile(`:(\d+):(\d+)`)

// exceptionToError converts a goja failure while loading a library into an engine error,
// keeping the reported line and column when the runtime provides them.
func exceptionToError(message string, err error) error {
	mErr := minification.NewEngineError(message, err)

	var exc *goja.Exception
	var syntax *goja.CompilerSyntaxError
	switch {
	case errors.As(err, &exc):
		mErr.Line, mErr.Column = location(exc.Error())
	case errors.As(err, &syntax):
		mErr.Line, mErr.Column = location(syntax.Error())
	}

	return mErr
}

// rejectionMessage renders the reason of a rejected promise.
func rejectionMessage(vm *goja.Runtime, reason goja.Value) string {
	if reason == nil || goja.IsUndefined(reason) || goja.IsNull(reason) {
		return "promise rejected without a reason"
	}
	if obj, ok := reason.(*goja.Object); ok {
		if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
			name := "Error"
			if n := obj.Get("name"); n != nil && !goja.IsUndefined(n) {
				name = n.String()
			}
			return fmt.Sprintf("%s: %s", name, msg.String())
		}
	}
	return reason.String()
}

func location(s string) (line, column int) {
	m := locationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, 0
	}
	line, _ = strconv.Atoi(m[1])
	column, _ = strconv.Atoi(m[2])
	return line, column
}
