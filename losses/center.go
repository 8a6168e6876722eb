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
	"github.com/gomlx/gomlx/ml/context/initializers"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/gomlx/metriclearn/distances"
)

// CenterLinear is the plain classifier head paired with the center loss, a
// dense layer with bias under the "center_linear" scope of ctx.
func CenterLinear(ctx *context.Context, embeddings *graph.Node, numClasses int) *graph.Node {
	return layers.DenseWithBias(ctx.In("center_linear"), embeddings, numClasses)
}

// CentersVar returns the `[numClasses, embedDim]` per-class centers variable
// under the "centers" scope of ctx, creating it zero-initialized on first
// use. The centers are not trained by gradient descent; they follow the
// batch class means through UpdateCentersMovingAverage.
func CentersVar(ctx *context.Context, numClasses, embedDim int, dtype dtypes.DType) *context.Variable {
	ctx = ctx.In("centers").WithInitializer(initializers.Zero)
	return ctx.VariableWithShape("centers", shapes.Make(dtype, numClasses, embedDim)).
		SetTrainable(false)
}

// UpdateCentersMovingAverage moves each class center towards the mean of the
// batch examples of that class:
//
//	center[c] = (1-alpha) * center[c] + alpha * batchMean[c]
//
// Classes absent from the batch keep their current center. The update is
// registered on the graph through SetValueGraph, so it takes effect when the
// surrounding executor donates the variable values back.
func UpdateCentersMovingAverage(ctx *context.Context, embeddings, labels *graph.Node, numClasses int, alpha float64) {
	g := embeddings.Graph()
	dtype := embeddings.DType()
	embedDim := embeddings.Shape().Dim(-1)
	centersVar := CentersVar(ctx, numClasses, embedDim, dtype)
	centers := centersVar.ValueGraph(g)

	oneHot := graph.OneHot(labels, numClasses, dtype)
	counts := graph.ReduceSum(oneHot, 0)                            // [numClasses]
	sums := graph.MatMul(graph.Transpose(oneHot, 0, 1), embeddings) // [numClasses, embedDim]
	batchMeans := graph.Div(sums, graph.InsertAxes(graph.Max(counts, graph.OnesLike(counts)), -1))

	present := graph.GreaterThan(counts, graph.ScalarZero(g, dtype))
	present = graph.BroadcastToShape(graph.InsertAxes(present, -1),
		shapes.Make(dtypes.Bool, centers.Shape().Dimensions...))

	moved := graph.Add(graph.MulScalar(centers, 1.0-alpha), graph.MulScalar(batchMeans, alpha))
	centersVar.SetValueGraph(graph.Where(present, moved, centers))
}

// SoftmaxCenter is the center loss of Wen et al. combined with a softmax
// classifier head: cross-entropy on the CenterLinear logits plus Lambda times
// the squared distance of each embedding to its own class center.
//
// Reference: [A Discriminative Feature Learning Approach for Deep Face
// Recognition](https://ydwen.github.io/papers/WenECCV16.pdf).
type SoftmaxCenter struct {
	NumClasses  int
	Lambda      float64 // Weight of the center-distance term.
	Alpha       float64 // Moving-average rate for the center updates.
	Metric      distances.Metric
	SizeAverage bool
}

// Logits returns the classifier-head logits for embeddings.
func (l *SoftmaxCenter) Logits(ctx *context.Context, embeddings *graph.Node) *graph.Node {
	return CenterLinear(ctx, embeddings, l.NumClasses)
}

// Loss builds the scalar center loss for a batch and registers the centers
// moving-average update on the same graph.
func (l *SoftmaxCenter) Loss(ctx *context.Context, embeddings, labels *graph.Node) *graph.Node {
	g := embeddings.Graph()
	dtype := embeddings.DType()
	embedDim := embeddings.Shape().Dim(-1)
	centers := CentersVar(ctx, l.NumClasses, embedDim, dtype).ValueGraph(g)
	ownCenters := gatherRows(centers, labels)
	toCenter := reduceLoss(graph.Square(l.Metric.Between(embeddings, ownCenters)), l.SizeAverage)

	classification := CrossEntropy(labels, l.Logits(ctx, embeddings), l.SizeAverage)
	UpdateCentersMovingAverage(ctx, graph.StopGradient(embeddings), labels, l.NumClasses, l.Alpha)
	return graph.Add(classification, graph.MulScalar(toCenter, l.Lambda))
}
