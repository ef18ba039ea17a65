package language

import (
	"context"
	"fmt"
	"reflect"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// Go runs programs with the yaegi interpreter. Programs see a package
// "datastation" exposing GetPanel(index) (any, error) and SetPanel(value).
// Without SetPanel the value of the last expression is the result.
func Go() *Language {
	return &Language{
		ID:        "go",
		Name:      "Go",
		Extension: ".go",
		Eval:      evalGo,
	}
}

func evalGo(ctx context.Context, content string, ec EvalContext) (EvalResult, error) {
	var (
		result   EvalResult
		upstream error
		assigned any
		set      bool
	)

	stdout, collected := ec.output()
	i := interp.New(interp.Options{Stdout: stdout, Stderr: stdout})
	if err := i.Use(stdlib.Symbols); err != nil {
		return result, fmt.Errorf("go: load stdlib: %w", err)
	}
	getPanel := func(index int) (any, error) {
		value, err := ec.ReadPanel(index)
		if err != nil {
			upstream = err
		}
		return value, err
	}
	setPanel := func(value any) {
		assigned = value
		set = true
	}
	exports := interp.Exports{
		"datastation/datastation": map[string]reflect.Value{
			"GetPanel": reflect.ValueOf(getPanel),
			"SetPanel": reflect.ValueOf(setPanel),
		},
	}
	if err := i.Use(exports); err != nil {
		return result, fmt.Errorf("go: load datastation symbols: %w", err)
	}
	if _, err := i.Eval(`import "datastation"`); err != nil {
		return result, fmt.Errorf("go: import datastation: %w", err)
	}

	completion, err := i.EvalWithContext(ctx, content)
	result.Stdout = collected()
	if upstream != nil {
		return result, upstream
	}
	if err != nil {
		return result, err
	}

	var value any
	switch {
	case set:
		value = assigned
	case completion.IsValid() && completion.CanInterface():
		value = completion.Interface()
	}
	result.Value, err = normalize(value)
	return result, err
}
