// Package curves parameterizes network weights as a curve through weight
// space: w(t) = Σ_i c_i(t)·w_i over a fixed number of bends w_i.
package curves

import (
	"fmt"
	"math"
	"sort"
)

// Curve maps t ∈ [0,1] to one coefficient per bend.
type Curve interface {
	Coefficients(t float64) []float64
	Bends() int
	Name() string
}

// Bezier uses Bernstein coefficients C(n-1,i)·tⁱ·(1-t)ⁿ⁻¹⁻ⁱ.
type Bezier struct {
	n     int
	binom []float64
}

func NewBezier(bends int) (*Bezier, error) {
	if bends < 2 {
		return nil, fmt.Errorf("bezier curve needs at least 2 bends, got %d", bends)
	}
	binom := make([]float64, bends)
	for i := range binom {
		binom[i] = binomial(bends-1, i)
	}
	return &Bezier{n: bends, binom: binom}, nil
}

func binomial(n, k int) float64 {
	r := 1.0
	for i := 1; i <= k; i++ {
		r = r * float64(n-k+i) / float64(i)
	}
	return r
}

func (b *Bezier) Coefficients(t float64) []float64 {
	c := make([]float64, b.n)
	for i := range c {
		c[i] = b.binom[i] * math.Pow(t, float64(i)) * math.Pow(1-t, float64(b.n-1-i))
	}
	return c
}

func (b *Bezier) Bends() int   { return b.n }
func (b *Bezier) Name() string { return "Bezier" }

// PolyChain is piecewise linear between consecutive bends placed at i/(n-1).
type PolyChain struct {
	n int
}

func NewPolyChain(bends int) (*PolyChain, error) {
	if bends < 2 {
		return nil, fmt.Errorf("polychain curve needs at least 2 bends, got %d", bends)
	}
	return &PolyChain{n: bends}, nil
}

func (p *PolyChain) Coefficients(t float64) []float64 {
	c := make([]float64, p.n)
	tn := t * float64(p.n-1)
	for i := range c {
		c[i] = math.Max(0, 1-math.Abs(tn-float64(i)))
	}
	return c
}

func (p *PolyChain) Bends() int   { return p.n }
func (p *PolyChain) Name() string { return "PolyChain" }

var registry = map[string]func(bends int) (Curve, error){
	"Bezier":    func(n int) (Curve, error) { return NewBezier(n) },
	"PolyChain": func(n int) (Curve, error) { return NewPolyChain(n) },
}

// Lookup builds the named curve family with the given number of bends.
func Lookup(name string, bends int) (Curve, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown curve %q (have %v)", name, Names())
	}
	return ctor(bends)
}

// Names lists the registered curve families.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
