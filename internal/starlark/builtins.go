package starlark

import (
	"go.starlark.net/lib/math"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// Predeclared returns the globals available to feature code besides the
// Starlark universe: the math module and the struct constructor.
// Nothing here performs I/O.
func Predeclared() starlark.StringDict {
	return starlark.StringDict{
		"math":   math.Module,
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
	}
}
