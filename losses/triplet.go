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
	"gonum.org/v1/gonum/mat"

	"github.com/gomlx/metriclearn/distances"
	"github.com/gomlx/metriclearn/mining"
)

// Triplet is the margin hinge loss over mined (anchor, positive, negative)
// triplets:
//
//	loss = scaling * max(0, d(a,p) - d(a,n) + margin)
//
// The Strategy decides which of the O(n^3) candidate triplets of a batch
// enter the sum; see package mining.
//
// References:
//
//	[FaceNet](https://arxiv.org/abs/1503.03832)
//	[In Defense of the Triplet Loss for Person Re-Identification](https://arxiv.org/abs/1703.07737)
type Triplet struct {
	Margin      float64
	Scaling     float64
	Metric      distances.Metric
	SizeAverage bool
	Strategy    mining.Strategy
}

// Mine returns the triplets selected by the configured strategy for a batch,
// given its host-side distance matrix and labels. An empty result means the
// batch has no valid triplet and contributes zero loss -- do not build the
// loss graph for it.
func (l *Triplet) Mine(dists *mat.Dense, labels []int) []mining.Triplet {
	return l.Strategy.Mine(dists, labels)
}

// Loss builds the scalar triplet loss. anchors, positives and negatives are
// `[numTriplets]` integer index vectors into the rows of embeddings.
func (l *Triplet) Loss(embeddings, anchors, positives, negatives *graph.Node) *graph.Node {
	a := gatherRows(embeddings, anchors)
	p := gatherRows(embeddings, positives)
	n := gatherRows(embeddings, negatives)

	anchorPositive := l.Metric.Between(a, p)
	anchorNegative := l.Metric.Between(a, n)
	perTriplet := graph.MaxScalar(graph.AddScalar(graph.Sub(anchorPositive, anchorNegative), l.Margin), 0.0)
	if l.Scaling != 0 && l.Scaling != 1 {
		perTriplet = graph.MulScalar(perTriplet, l.Scaling)
	}
	return reduceLoss(perTriplet, l.SizeAverage)
}
