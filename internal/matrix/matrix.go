// Package matrix provides the 4x4 matrix kernel used by the pool benchmark
package matrix

import (
	"math/rand/v2"
)

// Matrix is a row-major 4x4 single precision matrix
type Matrix [4][4]float32

// Identity returns the identity matrix
func Identity() Matrix {
	var m Matrix
	for i := 0; i < 4; i++ {
		m[i][i] = 1
	}
	return m
}

// Multiply returns a*b
func Multiply(a, b Matrix) Matrix {
	var m Matrix
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			m[i][j] = a[i][0]*b[0][j] + a[i][1]*b[1][j] + a[i][2]*b[2][j] + a[i][3]*b[3][j]
		}
	}
	return m
}

// Sum returns the sum of all 16 elements
func (m Matrix) Sum() float32 {
	var s float32
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			s += m[i][j]
		}
	}
	return s
}

// MultiplyRange sets b[i] = a[i]*b[i] for every i in [lo, hi)
func MultiplyRange(a, b []Matrix, lo, hi int) {
	for i := lo; i < hi; i++ {
		b[i] = Multiply(a[i], b[i])
	}
}

// SumRange returns the sum of every element of a[lo:hi]
func SumRange(a []Matrix, lo, hi int) float64 {
	var total float64
	for i := lo; i < hi; i++ {
		total += float64(a[i].Sum())
	}
	return total
}

// Generator produces matrices with elements uniformly drawn from [0, 1).
// It is not safe for concurrent use.
type Generator struct {
	rng *rand.Rand
}

// NewGenerator creates a generator with a deterministic seed
func NewGenerator(seed uint64) *Generator {
	return &Generator{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Next returns a random matrix
func (g *Generator) Next() Matrix {
	var m Matrix
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			m[i][j] = g.rng.Float32()
		}
	}
	return m
}

// Fill overwrites every element of dst with a random matrix
func (g *Generator) Fill(dst []Matrix) {
	for i := range dst {
		dst[i] = g.Next()
	}
}

// Generate returns n random matrices
func (g *Generator) Generate(n int) []Matrix {
	out := make([]Matrix, n)
	g.Fill(out)
	return out
}
