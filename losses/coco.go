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
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/shapes"
)

// CocoLinear builds the congenerous-cosine (CoCo) logits: both the embeddings
// and the trainable per-class center vectors are projected onto the unit
// sphere, so each logit is the cosine similarity to a class center, scaled by
// alpha.
//
// The `[embedDim, numClasses]` centers matrix is a trainable variable under
// the "coco_linear" scope of ctx.
//
// Reference: [Rethinking Feature Discrimination and Polymerization for
// Large-scale Recognition](https://arxiv.org/abs/1710.00870).
func CocoLinear(ctx *context.Context, embeddings *graph.Node, numClasses int, alpha float64) *graph.Node {
	g := embeddings.Graph()
	dtype := embeddings.DType()
	embedDim := embeddings.Shape().Dim(-1)

	centersVar := ctx.In("coco_linear").VariableWithShape("centers", shapes.Make(dtype, embedDim, numClasses))
	centers := centersVar.ValueGraph(g)

	cosine := graph.MatMul(graph.L2Normalize(embeddings, -1), graph.L2Normalize(centers, 0))
	return graph.MulScalar(cosine, alpha)
}

// Coco combines CocoLinear with the sparse categorical cross-entropy.
type Coco struct {
	NumClasses  int
	Alpha       float64 // Cosine-logit scale.
	SizeAverage bool
}

// Logits returns the alpha-scaled cosine logits.
func (l *Coco) Logits(ctx *context.Context, embeddings *graph.Node) *graph.Node {
	return CocoLinear(ctx, embeddings, l.NumClasses, l.Alpha)
}

// Loss builds the scalar CoCo loss for a batch.
func (l *Coco) Loss(ctx *context.Context, embeddings, labels *graph.Node) *graph.Node {
	return CrossEntropy(labels, l.Logits(ctx, embeddings), l.SizeAverage)
}
