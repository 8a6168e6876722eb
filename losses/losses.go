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

// Package losses implements the metric-learning loss formulas as
// graph-building functions, in the style of gomlx/ml/train/losses.
//
// Losses that own trainable parameters (ArcFace and CoCo weight matrices,
// class centers, classifier heads) store them as context variables under the
// scope they are called with; by convention the loss-config layer calls them
// under the "/loss" scope so their parameters form a named group the
// optimizer assembly can route a separate learning rate to.
//
// The mined pair/triplet index sets produced by package mining enter the
// graph as integer tensors and example rows are selected with Gather, so
// gradients flow only through the contributing examples.
//
// Every loss reduces to a scalar; the sizeAverage flag selects between
// mean-over-examples and sum-over-examples reduction.
package losses

import (
	"github.com/gomlx/gomlx/graph"
	gomlxlosses "github.com/gomlx/gomlx/ml/train/losses"
	"github.com/gomlx/gomlx/types/tensors"

	"github.com/gomlx/metriclearn/mining"
)

// reduceLoss reduces a vector of per-example losses to a scalar: the mean
// when sizeAverage, the sum otherwise.
func reduceLoss(perExample *graph.Node, sizeAverage bool) *graph.Node {
	if sizeAverage {
		return graph.ReduceAllMean(perExample)
	}
	return graph.ReduceAllSum(perExample)
}

// gatherRows selects rows of embeddings (`[n, embedDim]`) by the integer
// index vector indices (`[k]`), returning `[k, embedDim]`.
func gatherRows(embeddings, indices *graph.Node) *graph.Node {
	return graph.Gather(embeddings, graph.ExpandDims(indices, -1))
}

// CrossEntropy is the sparse categorical cross-entropy over logits, reduced
// per sizeAverage. labels are `[batchSize]` class ids, logits are
// `[batchSize, numClasses]`.
func CrossEntropy(labels, logits *graph.Node, sizeAverage bool) *graph.Node {
	perExample := gomlxlosses.SparseCategoricalCrossEntropyLogits(
		[]*graph.Node{graph.ExpandDims(labels, -1)}, []*graph.Node{logits})
	return reduceLoss(perExample, sizeAverage)
}

// TripletsToTensors converts mined triplets to the three index tensors
// (anchors, positives, negatives) consumed by Triplet.Loss. The caller must
// not pass an empty slice: an empty mined set means the batch contributes
// zero loss and no graph should be executed at all.
func TripletsToTensors(triplets []mining.Triplet) (anchors, positives, negatives *tensors.Tensor) {
	n := len(triplets)
	aFlat := make([]int32, n)
	pFlat := make([]int32, n)
	nFlat := make([]int32, n)
	for i, t := range triplets {
		aFlat[i] = int32(t.Anchor)
		pFlat[i] = int32(t.Positive)
		nFlat[i] = int32(t.Negative)
	}
	anchors = tensors.FromFlatDataAndDimensions(aFlat, n)
	positives = tensors.FromFlatDataAndDimensions(pFlat, n)
	negatives = tensors.FromFlatDataAndDimensions(nFlat, n)
	return
}

// PairsToTensors converts mined pairs to the index tensors (lefts, rights)
// and the boolean same-class tensor consumed by Contrastive.Loss. The caller
// must not pass an empty slice.
func PairsToTensors(pairs []mining.Pair) (lefts, rights, same *tensors.Tensor) {
	n := len(pairs)
	lFlat := make([]int32, n)
	rFlat := make([]int32, n)
	sFlat := make([]bool, n)
	for i, p := range pairs {
		lFlat[i] = int32(p.Left)
		rFlat[i] = int32(p.Right)
		sFlat[i] = p.Same
	}
	lefts = tensors.FromFlatDataAndDimensions(lFlat, n)
	rights = tensors.FromFlatDataAndDimensions(rFlat, n)
	same = tensors.FromFlatDataAndDimensions(sFlat, n)
	return
}
