// v0
// internal/dts/resolver.go
package dts

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrUnknownSymbol is returned when a tolerance expression is neither a
// number nor a known symbol.
var ErrUnknownSymbol = errors.New("unknown symbol")

// Resolver turns a set-point or tolerance expression into a number. An empty
// expression resolves to NaN, meaning the bound is not checked.
type Resolver interface {
	Resolve(expr string) (float64, error)
}

// ResolverFunc adapts a plain function to the Resolver interface.
type ResolverFunc func(expr string) (float64, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(expr string) (float64, error) { return f(expr) }

// Symbols resolves literal numbers first and falls back to named values.
type Symbols map[string]float64

// Resolve implements Resolver.
func (s Symbols) Resolve(expr string) (float64, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return math.NaN(), nil
	}
	if v, err := strconv.ParseFloat(expr, 64); err == nil {
		return v, nil
	}
	if v, ok := s[expr]; ok {
		return v, nil
	}
	return math.NaN(), fmt.Errorf("%w: %q", ErrUnknownSymbol, expr)
}
