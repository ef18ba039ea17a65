package language

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/robertkrimen/otto"
)

var errJSHalted = errors.New("javascript: evaluation halted")

const jsPrelude = `
function DM_getPanel(i) { return JSON.parse(__dm_readPanel(i)); }
function DM_setPanel(v) { __dm_setPanel(JSON.stringify(v)); }
`

// JavaScript runs programs in an embedded otto VM. If the program never calls
// DM_setPanel its completion value is the result.
func JavaScript() *Language {
	return &Language{
		ID:        "javascript",
		Name:      "JavaScript",
		Extension: ".js",
		Eval:      evalJavaScript,
	}
}

func evalJavaScript(ctx context.Context, content string, ec EvalContext) (result EvalResult, err error) {
	vm := otto.New()
	stdout, collected := ec.output()
	var upstream error
	var assigned *string

	console, err := vm.Object(`({})`)
	if err != nil {
		return result, err
	}
	logFn := func(call otto.FunctionCall) otto.Value {
		parts := make([]string, len(call.ArgumentList))
		for i, arg := range call.ArgumentList {
			parts[i] = arg.String()
		}
		_, _ = io.WriteString(stdout, strings.Join(parts, " ")+"\n")
		return otto.UndefinedValue()
	}
	for _, name := range []string{"log", "info", "warn", "error"} {
		if err := console.Set(name, logFn); err != nil {
			return result, err
		}
	}
	if err := vm.Set("console", console); err != nil {
		return result, err
	}
	if err := vm.Set("__dm_readPanel", func(call otto.FunctionCall) otto.Value {
		index, _ := call.Argument(0).ToInteger()
		raw, readErr := ec.ReadPanelJSON(int(index))
		if readErr != nil {
			upstream = readErr
			panic(vm.MakeCustomError("InvalidDependentPanelError", readErr.Error()))
		}
		value, _ := vm.ToValue(string(raw))
		return value
	}); err != nil {
		return result, err
	}
	if err := vm.Set("__dm_setPanel", func(call otto.FunctionCall) otto.Value {
		encoded := "null"
		if arg := call.Argument(0); !arg.IsUndefined() {
			encoded = arg.String()
		}
		assigned = &encoded
		return otto.UndefinedValue()
	}); err != nil {
		return result, err
	}
	if _, err := vm.Run(jsPrelude); err != nil {
		return result, fmt.Errorf("javascript: prelude: %w", err)
	}

	vm.Interrupt = make(chan func(), 1)
	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt <- func() { panic(errJSHalted) }
	})
	defer stop()
	defer func() {
		if caught := recover(); caught != nil {
			if caught == errJSHalted {
				err = ctx.Err()
				return
			}
			panic(caught)
		}
	}()

	completion, runErr := vm.Run(content)
	result.Stdout = collected()
	if upstream != nil {
		return result, upstream
	}
	if runErr != nil {
		return result, runErr
	}

	if assigned != nil {
		var value any
		if err := json.Unmarshal([]byte(*assigned), &value); err != nil {
			return result, fmt.Errorf("javascript: DM_setPanel value: %w", err)
		}
		result.Value = value
		return result, nil
	}
	if completion.IsUndefined() || completion.IsNull() {
		return result, nil
	}
	exported, err := completion.Export()
	if err != nil {
		return result, fmt.Errorf("javascript: export result: %w", err)
	}
	result.Value, err = normalize(exported)
	return result, err
}
