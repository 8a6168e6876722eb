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

package mining_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/gomlx/metriclearn/distances"
	"github.com/gomlx/metriclearn/mining"
)

// randomBatch builds a reproducible batch: embeddings in [-1, 1) and labels
// cycling over numClasses.
func randomBatch(rng *rand.Rand, n, dim, numClasses int) (*mat.Dense, []int) {
	data := make([]float64, n*dim)
	for i := range data {
		data[i] = rng.Float64()*2 - 1
	}
	labels := make([]int, n)
	for i := range labels {
		labels[i] = rng.Intn(numClasses)
	}
	return mat.NewDense(n, dim, data), labels
}

// isValidTriplet checks the label constraints of a triplet.
func isValidTriplet(t mining.Triplet, labels []int) bool {
	return t.Anchor != t.Positive &&
		labels[t.Anchor] == labels[t.Positive] &&
		labels[t.Anchor] != labels[t.Negative]
}

// batchAllCount is the closed-form count of valid triplets: for each class
// with c >= 2 members, c*(c-1) ordered (anchor, positive) pairs times the
// n-c negatives.
func batchAllCount(labels []int) int {
	counts := make(map[int]int)
	for _, label := range labels {
		counts[label]++
	}
	total := 0
	for _, c := range counts {
		total += c * (c - 1) * (len(labels) - c)
	}
	return total
}

func TestBatchAll(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 10; trial++ {
		embeddings, labels := randomBatch(rng, 12, 4, 3)
		dists := distances.Euclidean{}.PairwiseMatrix(embeddings)
		triplets := mining.BatchAll{}.Mine(dists, labels)
		require.Len(t, triplets, batchAllCount(labels))
		seen := make(map[mining.Triplet]bool)
		for _, triplet := range triplets {
			assert.True(t, isValidTriplet(triplet, labels))
			assert.False(t, seen[triplet], "duplicate triplet %v", triplet)
			seen[triplet] = true
		}
	}
}

func TestBatchAllNoValidTriplets(t *testing.T) {
	// Every class appears exactly once: no positives, no triplets.
	embeddings := mat.NewDense(3, 2, []float64{0, 0, 1, 0, 0, 1})
	labels := []int{0, 1, 2}
	dists := distances.Euclidean{}.PairwiseMatrix(embeddings)
	assert.Empty(t, mining.BatchAll{}.Mine(dists, labels))
	assert.Empty(t, mining.HardestNegative{}.Mine(dists, labels))
	assert.Empty(t, mining.HardestPositiveNegative{}.Mine(dists, labels))
	assert.Empty(t, mining.SemiHardNegative{Negatives: 3}.Mine(dists, labels))
}

func TestHardestNegative(t *testing.T) {
	// 1D layout: class 0 at {0, 1}, class 1 at {2, 10}. The hardest negative
	// of every class-0 anchor is index 2.
	embeddings := mat.NewDense(4, 1, []float64{0, 1, 2, 10})
	labels := []int{0, 0, 1, 1}
	dists := distances.Euclidean{}.PairwiseMatrix(embeddings)
	triplets := mining.HardestNegative{}.Mine(dists, labels)

	// One triplet per ordered valid (anchor, positive) pair.
	require.Len(t, triplets, 4)
	perPair := make(map[[2]int]int)
	for _, triplet := range triplets {
		require.True(t, isValidTriplet(triplet, labels))
		perPair[[2]int{triplet.Anchor, triplet.Positive}]++
		if labels[triplet.Anchor] == 0 {
			assert.Equal(t, 2, triplet.Negative)
		}
	}
	for pair, count := range perPair {
		assert.Equalf(t, 1, count, "pair %v mined more than once", pair)
	}
	// Class-1 anchors: nearest class-0 example.
	assert.Contains(t, triplets, mining.Triplet{Anchor: 2, Positive: 3, Negative: 1})
	assert.Contains(t, triplets, mining.Triplet{Anchor: 3, Positive: 2, Negative: 1})
}

func TestHardestNegativeTieBreak(t *testing.T) {
	// Negatives 2 and 3 are equidistant from anchor 0: lowest index wins.
	embeddings := mat.NewDense(4, 2, []float64{0, 0, 0, 2, 1, 0, -1, 0})
	labels := []int{0, 0, 1, 1}
	dists := distances.Euclidean{}.PairwiseMatrix(embeddings)
	triplets := mining.HardestNegative{}.Mine(dists, labels)
	for _, triplet := range triplets {
		if triplet.Anchor == 0 {
			assert.Equal(t, 2, triplet.Negative)
		}
	}
}

func TestHardestPositiveNegative(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	embeddings, labels := randomBatch(rng, 10, 3, 2)
	dists := distances.Euclidean{}.PairwiseMatrix(embeddings)
	triplets := mining.HardestPositiveNegative{}.Mine(dists, labels)

	perAnchor := make(map[int]int)
	for _, triplet := range triplets {
		require.True(t, isValidTriplet(triplet, labels))
		perAnchor[triplet.Anchor]++
		// Hardest positive: no same-class example farther from the anchor.
		for j, label := range labels {
			if label == labels[triplet.Anchor] && j != triplet.Anchor {
				assert.LessOrEqual(t, dists.At(triplet.Anchor, j), dists.At(triplet.Anchor, triplet.Positive)+1e-12)
			}
			if label != labels[triplet.Anchor] {
				assert.GreaterOrEqual(t, dists.At(triplet.Anchor, j), dists.At(triplet.Anchor, triplet.Negative)-1e-12)
			}
		}
	}
	for anchor, count := range perAnchor {
		assert.Equalf(t, 1, count, "anchor %d mined more than once", anchor)
	}
}

func TestSemiHardNegative(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	k := 2
	for trial := 0; trial < 10; trial++ {
		embeddings, labels := randomBatch(rng, 12, 4, 3)
		dists := distances.Euclidean{}.PairwiseMatrix(embeddings)
		triplets := mining.SemiHardNegative{Negatives: k}.Mine(dists, labels)

		perPair := make(map[[2]int]int)
		for _, triplet := range triplets {
			require.True(t, isValidTriplet(triplet, labels))
			perPair[[2]int{triplet.Anchor, triplet.Positive}]++
			// Qualifying negatives are at least as far as the positive.
			assert.GreaterOrEqual(t,
				dists.At(triplet.Anchor, triplet.Negative),
				dists.At(triplet.Anchor, triplet.Positive)-1e-12)
		}
		for pair, count := range perPair {
			assert.LessOrEqualf(t, count, k, "pair %v has more than %d negatives", pair, k)
		}
	}
}

func TestSemiHardNegativeRanking(t *testing.T) {
	// Anchor 0, positive 1 at distance 2. Negatives at distances 1 (too
	// close, disqualified), 3, 5 and 6: with k=2, the kept negatives are the
	// two that exceed the positive distance by the least, i.e. 3 then 5.
	embeddings := mat.NewDense(6, 1, []float64{0, 2, 1, 3, 5, 6})
	labels := []int{0, 0, 1, 1, 1, 1}
	dists := distances.Euclidean{}.PairwiseMatrix(embeddings)
	triplets := mining.SemiHardNegative{Negatives: 2}.Mine(dists, labels)

	var negatives []int
	for _, triplet := range triplets {
		if triplet.Anchor == 0 && triplet.Positive == 1 {
			negatives = append(negatives, triplet.Negative)
		}
	}
	assert.Equal(t, []int{3, 4}, negatives)
}

func TestStrategyByName(t *testing.T) {
	for _, name := range []string{"all", "hardest-neg", "hardest-pos-neg", "semihard-neg"} {
		assert.Equal(t, name, mining.StrategyByName(name, 5).Name())
	}
	require.Panics(t, func() { mining.StrategyByName("bogus", 5) })
}

func TestAllPairs(t *testing.T) {
	labels := []int{0, 0, 1, 2}
	pairs := mining.AllPairs(labels)
	require.Len(t, pairs, 6) // 4 choose 2.
	sameCount := 0
	for _, pair := range pairs {
		assert.Less(t, pair.Left, pair.Right)
		assert.Equal(t, labels[pair.Left] == labels[pair.Right], pair.Same)
		if pair.Same {
			sameCount++
		}
	}
	assert.Equal(t, 1, sameCount)
}

func TestHardestPairs(t *testing.T) {
	embeddings := mat.NewDense(4, 1, []float64{0, 1, 2, 10})
	labels := []int{0, 0, 1, 1}
	dists := distances.Euclidean{}.PairwiseMatrix(embeddings)
	pairs := mining.HardestPairs(dists, labels)

	var same, diff []mining.Pair
	for _, pair := range pairs {
		if pair.Same {
			same = append(same, pair)
		} else {
			diff = append(diff, pair)
		}
	}
	// Every same-class pair once.
	assert.ElementsMatch(t, []mining.Pair{
		{Left: 0, Right: 1, Same: true},
		{Left: 2, Right: 3, Same: true},
	}, same)
	// One hardest-negative pair per anchor.
	assert.ElementsMatch(t, []mining.Pair{
		{Left: 0, Right: 2, Same: false},
		{Left: 1, Right: 2, Same: false},
		{Left: 2, Right: 1, Same: false},
		{Left: 3, Right: 1, Same: false},
	}, diff)
}
