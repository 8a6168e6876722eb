/*
 *	Copyright 2025 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package distances implements the pairwise distance metrics used by the
// metric-learning losses and mining strategies.
//
// Each Metric is available in two forms: graph-building methods (Pairwise,
// PairwiseCross, Between) that are differentiable and run on the configured
// backend, and host methods (PairwiseMatrix, PairwiseCrossMatrix) operating on
// gonum matrices, used by the online mining strategies and by
// evaluation/visualization collaborators.
//
// Metrics are pure values: no state, no side effects.
package distances

import (
	"math"

	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"golang.org/x/exp/maps"
	"gonum.org/v1/gonum/mat"
)

// Metric computes distances between embedding vectors under a fixed geometry.
//
// Graph methods expect embeddings shaped `[batchSize, embedDim]` and are safe
// to differentiate: distances of exactly zero (e.g. the diagonal) do not
// produce NaN gradients.
type Metric interface {
	// Name of the metric, one of the keys accepted by MetricByName.
	Name() string

	// Pairwise returns the `[n, n]` matrix of distances between every pair of
	// rows of embeddings. The diagonal is exactly zero.
	Pairwise(embeddings *Node) *Node

	// PairwiseCross returns the `[n, m]` matrix of distances between rows of
	// x (`[n, embedDim]`) and rows of y (`[m, embedDim]`).
	PairwiseCross(x, y *Node) *Node

	// Between returns the `[n]` vector of distances between row-aligned
	// batches x and y, both shaped `[n, embedDim]`.
	Between(x, y *Node) *Node

	// PairwiseMatrix is the host-side version of Pairwise.
	PairwiseMatrix(embeddings mat.Matrix) *mat.Dense

	// PairwiseCrossMatrix is the host-side version of PairwiseCross.
	// It returns an error if the two matrices disagree on the embedding
	// dimension.
	PairwiseCrossMatrix(x, y mat.Matrix) (*mat.Dense, error)
}

const (
	Epsilon16 = 1e-4
	Epsilon32 = 1e-7
	Epsilon64 = 1e-8
)

// EpsilonForDType returns a small positive constant suited to dtype, used as
// a floor under square roots and logarithms.
func EpsilonForDType(g *Graph, dtype dtypes.DType) *Node {
	var epsilon float64
	switch dtype {
	case dtypes.Float64:
		epsilon = Epsilon64
	case dtypes.Float32:
		epsilon = Epsilon32
	case dtypes.Float16:
		epsilon = Epsilon16
	default:
		Panicf("no epsilon value defined for dtype %s", dtype)
	}
	return Const(g, shapes.CastAsDType(epsilon, dtype))
}

var metricsByName = map[string]func() Metric{
	"euclidean": func() Metric { return Euclidean{} },
	"cosine":    func() Metric { return Cosine{} },
}

// MetricByName returns the Metric registered under name, or panics listing
// the valid names. Valid names are "euclidean" and "cosine".
func MetricByName(name string) Metric {
	builder, found := metricsByName[name]
	if !found {
		Panicf("unknown distance metric %q, valid values are %v", name, maps.Keys(metricsByName))
	}
	return builder()
}

// safeSqrt takes the element-wise square root of non-negative x, flooring
// zero entries with an epsilon before the root so the gradient stays finite,
// and restoring them to exactly zero afterwards.
func safeSqrt(x *Node) *Node {
	g := x.Graph()
	dtype := x.DType()
	zero := ScalarZero(g, dtype)
	eps := EpsilonForDType(g, dtype)
	mask := LessOrEqual(x, zero)
	rooted := Sqrt(Where(mask, eps, x))
	return Where(mask, zero, rooted)
}

// Euclidean is the standard L2 distance.
type Euclidean struct{}

// Name implements Metric.
func (Euclidean) Name() string { return "euclidean" }

// Pairwise implements Metric.
//
// It uses the expansion `||a-b||^2 = ||a||^2 - 2<a,b> + ||b||^2`, clamping
// small negative values caused by rounding to zero before the square root.
func (Euclidean) Pairwise(embeddings *Node) *Node {
	dotProduct := MatMul(embeddings, Transpose(embeddings, 0, 1))
	squareNorm := L2NormSquare(embeddings, -1) // shape [n, 1], broadcasts below.
	squared := Add(Add(
		squareNorm,
		MulScalar(dotProduct, -2.0)),
		Transpose(squareNorm, 0, 1))
	squared = MaxScalar(squared, 0.0)
	dists := safeSqrt(squared)
	// Rounding may leave a tiny residue on the diagonal; pin it to zero.
	n := embeddings.Shape().Dim(0)
	return Where(Diagonal(embeddings.Graph(), n), ZerosLike(dists), dists)
}

// PairwiseCross implements Metric.
func (Euclidean) PairwiseCross(x, y *Node) *Node {
	dotProduct := MatMul(x, Transpose(y, 0, 1))
	xNorm := L2NormSquare(x, -1) // [n, 1]
	yNorm := L2NormSquare(y, -1) // [m, 1]
	squared := Add(Add(
		xNorm,
		MulScalar(dotProduct, -2.0)),
		Transpose(yNorm, 0, 1))
	return safeSqrt(MaxScalar(squared, 0.0))
}

// Between implements Metric.
func (Euclidean) Between(x, y *Node) *Node {
	diff := Sub(x, y)
	return safeSqrt(ReduceSum(Square(diff), -1))
}

// PairwiseMatrix implements Metric.
func (e Euclidean) PairwiseMatrix(embeddings mat.Matrix) *mat.Dense {
	out, _ := e.PairwiseCrossMatrix(embeddings, embeddings)
	n, _ := embeddings.Dims()
	for i := 0; i < n; i++ {
		out.Set(i, i, 0)
	}
	return out
}

// PairwiseCrossMatrix implements Metric.
func (Euclidean) PairwiseCrossMatrix(x, y mat.Matrix) (*mat.Dense, error) {
	n, dim, m, err := crossDims(x, y)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(n, m, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			var sum float64
			for k := 0; k < dim; k++ {
				d := x.At(i, k) - y.At(j, k)
				sum += d * d
			}
			out.Set(i, j, math.Sqrt(sum))
		}
	}
	return out, nil
}

// Cosine is `1 - cosine_similarity`, with values in [0, 2].
//
// Embeddings are normalized internally, so callers need not unit-normalize
// them first.
type Cosine struct{}

// Name implements Metric.
func (Cosine) Name() string { return "cosine" }

// Pairwise implements Metric.
func (c Cosine) Pairwise(embeddings *Node) *Node {
	dists := c.PairwiseCross(embeddings, embeddings)
	n := embeddings.Shape().Dim(0)
	return Where(Diagonal(embeddings.Graph(), n), ZerosLike(dists), dists)
}

// normalizeEpsilon guards the normalization against zero vectors, which show
// up e.g. as freshly zero-initialized class centers.
const normalizeEpsilon = 1e-12

// PairwiseCross implements Metric.
func (Cosine) PairwiseCross(x, y *Node) *Node {
	xn := L2NormalizeWithEpsilon(x, normalizeEpsilon, -1)
	yn := L2NormalizeWithEpsilon(y, normalizeEpsilon, -1)
	dists := OneMinus(MatMul(xn, Transpose(yn, 0, 1)))
	return ClipScalar(dists, 0.0, 2.0)
}

// Between implements Metric.
func (Cosine) Between(x, y *Node) *Node {
	xn := L2NormalizeWithEpsilon(x, normalizeEpsilon, -1)
	yn := L2NormalizeWithEpsilon(y, normalizeEpsilon, -1)
	dists := OneMinus(ReduceSum(Mul(xn, yn), -1))
	return ClipScalar(dists, 0.0, 2.0)
}

// PairwiseMatrix implements Metric.
func (c Cosine) PairwiseMatrix(embeddings mat.Matrix) *mat.Dense {
	out, _ := c.PairwiseCrossMatrix(embeddings, embeddings)
	n, _ := embeddings.Dims()
	for i := 0; i < n; i++ {
		out.Set(i, i, 0)
	}
	return out
}

// PairwiseCrossMatrix implements Metric.
func (Cosine) PairwiseCrossMatrix(x, y mat.Matrix) (*mat.Dense, error) {
	n, dim, m, err := crossDims(x, y)
	if err != nil {
		return nil, err
	}
	xNorms := rowNorms(x, n, dim)
	yNorms := rowNorms(y, m, dim)
	out := mat.NewDense(n, m, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			var dot float64
			for k := 0; k < dim; k++ {
				dot += x.At(i, k) * y.At(j, k)
			}
			d := 1 - dot/(xNorms[i]*yNorms[j])
			out.Set(i, j, math.Min(2, math.Max(0, d)))
		}
	}
	return out, nil
}
