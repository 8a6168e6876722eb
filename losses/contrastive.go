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

// Contrastive is the margin-based pair loss: same-class pairs contribute
// `d^2`, different-class pairs `max(0, margin - d)^2`.
//
// When Online, Mine restricts pairs to the hardest-negative subset (see
// mining.HardestPairs); otherwise every distinct in-batch pair is used.
type Contrastive struct {
	Margin      float64
	Metric      distances.Metric
	SizeAverage bool
	Online      bool
}

// Mine returns the pair set for a batch, given its host-side distance matrix
// and labels. It may be empty (batch of a single element), in which case the
// batch contributes zero loss.
func (l *Contrastive) Mine(dists *mat.Dense, labels []int) []mining.Pair {
	if l.Online {
		return mining.HardestPairs(dists, labels)
	}
	return mining.AllPairs(labels)
}

// Loss builds the scalar contrastive loss over the mined pairs.
//
// embeddings is `[batchSize, embedDim]`; lefts and rights are `[numPairs]`
// integer index vectors and same is the `[numPairs]` boolean vector telling
// whether the pair shares a class.
func (l *Contrastive) Loss(embeddings, lefts, rights, same *graph.Node) *graph.Node {
	g := embeddings.Graph()
	dtype := embeddings.DType()
	left := gatherRows(embeddings, lefts)
	right := gatherRows(embeddings, rights)
	d := l.Metric.Between(left, right)

	posLoss := graph.Square(d)
	negLoss := graph.Square(graph.Max(graph.Sub(graph.Scalar(g, dtype, l.Margin), d), graph.ScalarZero(g, dtype)))
	perPair := graph.Where(same, posLoss, negLoss)
	return reduceLoss(perPair, l.SizeAverage)
}
