package starlark

import (
	"errors"
	"fmt"

	"github.com/HDI-Project/FeatureFactory/pkg/core"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// DefaultEntrypoint is the function feature code must define.
const DefaultEntrypoint = "transform"

// fileOptions enables the dialect features user code commonly needs.
// while loops and recursion can run forever; the executor bounds them.
var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// Feature is feature source compiled and ready to run against datasets.
type Feature struct {
	Name       string
	Entrypoint string
	prog       *starlark.Program
}

// Compile parses and resolves feature source. Syntax and resolution errors
// are returned as *EvalError.
func Compile(name, src, entrypoint string) (*Feature, error) {
	if entrypoint == "" {
		entrypoint = DefaultEntrypoint
	}
	predeclared := Predeclared()
	_, prog, err := starlark.SourceProgramOptions(fileOptions, name, src, predeclared.Has)
	if err != nil {
		return nil, newEvalError(name, err)
	}
	return &Feature{Name: name, Entrypoint: entrypoint, prog: prog}, nil
}

// Run executes the module body and calls the entrypoint with a frozen view of ds.
func (f *Feature) Run(thread *starlark.Thread, ds *core.Dataset) (starlark.Value, error) {
	globals, err := f.prog.Init(thread, Predeclared())
	if err != nil {
		return nil, newEvalError(f.Name, err)
	}
	globals.Freeze()

	fn, ok := globals[f.Entrypoint]
	if !ok {
		return nil, &EvalError{File: f.Name, Message: fmt.Sprintf("feature code must define %s(dataset)", f.Entrypoint)}
	}
	callable, ok := fn.(starlark.Callable)
	if !ok {
		return nil, &EvalError{File: f.Name, Message: fmt.Sprintf("%s is a %s, not a function", f.Entrypoint, fn.Type())}
	}

	result, err := starlark.Call(thread, callable, starlark.Tuple{NewTable(ds)}, nil)
	if err != nil {
		return nil, newEvalError(f.Name, err)
	}
	return result, nil
}

// EvalError represents an error raised while compiling or running feature code.
// It carries the message and position only, never the Go or Starlark backtrace.
type EvalError struct {
	File    string
	Line    int
	Message string
}

func (e *EvalError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}

func newEvalError(file string, err error) *EvalError {
	var already *EvalError
	if errors.As(err, &already) {
		return already
	}

	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		line := 0
		if n := len(evalErr.CallStack); n > 0 {
			line = int(evalErr.CallStack[n-1].Pos.Line)
		}
		return &EvalError{File: file, Line: line, Message: evalErr.Msg}
	}

	var syntaxErr syntax.Error
	if errors.As(err, &syntaxErr) {
		return &EvalError{File: file, Line: int(syntaxErr.Pos.Line), Message: syntaxErr.Msg}
	}

	var resolveErrs resolve.ErrorList
	if errors.As(err, &resolveErrs) && len(resolveErrs) > 0 {
		first := resolveErrs[0]
		return &EvalError{File: file, Line: int(first.Pos.Line), Message: first.Msg}
	}

	return &EvalError{File: file, Message: err.Error()}
}
