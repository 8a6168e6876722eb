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
	"github.com/gomlx/gomlx/ml/layers"

	"github.com/gomlx/metriclearn/distances"
)

// SoftmaxLinear is the baseline classifier head: a dense layer with bias
// under the "softmax_linear" scope of ctx, producing unnormalized class
// logits.
func SoftmaxLinear(ctx *context.Context, embeddings *graph.Node, numClasses int) *graph.Node {
	return layers.DenseWithBias(ctx.In("softmax_linear"), embeddings, numClasses)
}

// Softmax is the baseline softmax classification loss, with no metric-learning
// term. It serves as the control the margin losses are compared against.
type Softmax struct {
	NumClasses  int
	SizeAverage bool
}

// Logits returns the classifier-head logits for embeddings.
func (l *Softmax) Logits(ctx *context.Context, embeddings *graph.Node) *graph.Node {
	return SoftmaxLinear(ctx, embeddings, l.NumClasses)
}

// Loss builds the scalar cross-entropy loss for a batch.
func (l *Softmax) Loss(ctx *context.Context, embeddings, labels *graph.Node) *graph.Node {
	return CrossEntropy(labels, l.Logits(ctx, embeddings), l.SizeAverage)
}

// KLDivergence is the Kullback-Leibler divergence `KL(targets || softmax(logits))`
// between a target distribution and the predicted one:
//
//	sum_c targets[c] * (log(targets[c]) - logSoftmax(logits)[c])
//
// targets are `[batchSize, numClasses]` probabilities (rows sum to 1), logits
// are unnormalized predictions of the same shape. The target log is floored
// at epsilon, so zero target entries contribute zero as in the limit.
func KLDivergence(logits, targets *graph.Node, sizeAverage bool) *graph.Node {
	g := logits.Graph()
	dtype := logits.DType()
	eps := distances.EpsilonForDType(g, dtype)
	logTargets := graph.Log(graph.Max(targets, eps))
	perEntry := graph.Mul(targets, graph.Sub(logTargets, graph.LogSoftmax(logits, -1)))
	perExample := graph.ReduceSum(perEntry, -1)
	return reduceLoss(perExample, sizeAverage)
}
