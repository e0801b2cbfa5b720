// Package report runs a submission's custom reporter step: a small
// JavaScript snippet evaluated against the submission's run context to
// decide its final verdict.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/dop251/goja"
)

// hostFunctionName is the one function the evaluator exposes to scripts.
const hostFunctionName = "getOJStatus"

// dataGlobalName is the one global exposing the run context to scripts.
const dataGlobalName = "DATA"

// ErrNonFiniteNumber is returned when a script's return value contains a
// NaN or infinite float; such values have no JSON representation.
var ErrNonFiniteNumber = errors.New("reporter script produced a non-finite number")

// ErrNotAnObject is returned when a script's top-level return value is not
// an object.
var ErrNotAnObject = errors.New("reporter script must return an object")

// Context is the run context serialized into the DATA global: the
// submission id plus each step's report so far.
type Context struct {
	ID    string         `json:"id"`
	Steps map[string]any `json:"steps"`
}

// Evaluate runs script against context, invoking a host-provided
// getOJStatus(runReport, compareReport) callback, and returns the script's
// return value converted to a generic JSON tree.
func Evaluate(script string, context Context, getOJStatus func(runReport, compareReport any) (string, error)) (map[string]any, error) {
	vm := goja.New()

	contextJSON, err := json.Marshal(context)
	if err != nil {
		return nil, fmt.Errorf("marshal run context: %w", err)
	}

	var dataValue any
	if err := json.Unmarshal(contextJSON, &dataValue); err != nil {
		return nil, fmt.Errorf("unmarshal run context: %w", err)
	}

	if err := vm.Set(dataGlobalName, dataValue); err != nil {
		return nil, fmt.Errorf("set %s global: %w", dataGlobalName, err)
	}

	hostFn := func(call goja.FunctionCall) goja.Value {
		runReport := call.Argument(0).Export()
		compareReport := call.Argument(1).Export()

		status, err := getOJStatus(runReport, compareReport)
		if err != nil {
			panic(vm.NewGoError(err))
		}

		return vm.ToValue(status)
	}

	if err := vm.Set(hostFunctionName, hostFn); err != nil {
		return nil, fmt.Errorf("set %s host function: %w", hostFunctionName, err)
	}

	value, err := vm.RunString(wrapScript(script))
	if err != nil {
		return nil, fmt.Errorf("run reporter script: %w", err)
	}

	exported := value.Export()

	converted, err := toJSONTree(exported)
	if err != nil {
		return nil, err
	}

	obj, ok := converted.(map[string]any)
	if !ok {
		return nil, ErrNotAnObject
	}

	if _, ok := obj["embeds"]; !ok {
		obj["embeds"] = []any{}
	}

	if _, ok := obj["uploads"]; !ok {
		obj["uploads"] = []any{}
	}

	return obj, nil
}

// wrapScript turns a bare script body (as written by submission authors,
// a sequence of statements ending in a return) into a callable function
// expression goja can invoke directly.
func wrapScript(body string) string {
	return "(function(){\n" + body + "\n})()"
}

// toJSONTree recursively converts a goja-exported Go value into the
// generic JSON tree shape: undefined becomes nil, integers and finite
// floats are preserved, non-finite floats fail the conversion.
func toJSONTree(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case bool, string:
		return val, nil
	case int64:
		return val, nil
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil, ErrNonFiniteNumber
		}

		return val, nil
	case []any:
		out := make([]any, len(val))

		for i, item := range val {
			converted, err := toJSONTree(item)
			if err != nil {
				return nil, err
			}

			out[i] = converted
		}

		return out, nil
	case map[string]any:
		out := make(map[string]any, len(val))

		for key, item := range val {
			converted, err := toJSONTree(item)
			if err != nil {
				return nil, err
			}

			out[key] = converted
		}

		return out, nil
	default:
		return fmt.Sprintf("%v", val), nil
	}
}
