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

package losses

import (
	"math"

	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/shapes"
)

// ArcLinear builds the ArcFace angular-margin logits: embeddings and the
// per-class weight vectors are L2-normalized, so their product is the cosine
// of the angle between embedding and class direction; the additive angular
// margin is applied to the true-class logit only, and everything is scaled
// by scale before the cross-entropy sharpens the distribution.
//
// The margin is applied through the identity
// `cos(theta+m) = cos(theta)*cos(m) - sin(theta)*sin(m)`, with the cosine
// clipped away from +-1 so the square root under sin(theta) keeps a finite
// gradient.
//
// The `[embedDim, numClasses]` weight matrix is a trainable variable under
// the "arc_linear" scope of ctx.
//
// Reference: [ArcFace](https://arxiv.org/abs/1801.07698).
func ArcLinear(ctx *context.Context, embeddings, labels *graph.Node, numClasses int, margin, scale float64) *graph.Node {
	g := embeddings.Graph()
	dtype := embeddings.DType()
	embedDim := embeddings.Shape().Dim(-1)

	weightsVar := ctx.In("arc_linear").VariableWithShape("weights", shapes.Make(dtype, embedDim, numClasses))
	weights := weightsVar.ValueGraph(g)

	cosine := graph.MatMul(graph.L2Normalize(embeddings, -1), graph.L2Normalize(weights, 0))
	cosine = graph.ClipScalar(cosine, -1.0+1e-7, 1.0-1e-7)
	sine := graph.Sqrt(graph.OneMinus(graph.Square(cosine)))
	cosineWithMargin := graph.Sub(
		graph.MulScalar(cosine, math.Cos(margin)),
		graph.MulScalar(sine, math.Sin(margin)))

	oneHot := graph.OneHot(labels, numClasses, dtype)
	logits := graph.Add(graph.Mul(oneHot, cosineWithMargin), graph.Mul(graph.OneMinus(oneHot), cosine))
	return graph.MulScalar(logits, scale)
}

// ArcFace combines ArcLinear with the sparse categorical cross-entropy.
type ArcFace struct {
	NumClasses  int
	Margin      float64 // Additive angular margin, in radians.
	Scale       float64 // Logit sharpness, "s" in the paper.
	SizeAverage bool
}

// Logits returns the margin-adjusted, scaled class logits.
func (l *ArcFace) Logits(ctx *context.Context, embeddings, labels *graph.Node) *graph.Node {
	return ArcLinear(ctx, embeddings, labels, l.NumClasses, l.Margin, l.Scale)
}

// Loss builds the scalar ArcFace loss for a batch.
func (l *ArcFace) Loss(ctx *context.Context, embeddings, labels *graph.Node) *graph.Node {
	return CrossEntropy(labels, l.Logits(ctx, embeddings, labels), l.SizeAverage)
}
