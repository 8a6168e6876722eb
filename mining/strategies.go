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

package mining

import (
	"sort"

	"gonum.org/v1/gonum/mat"
)

// BatchAll enumerates every valid triplet in the batch: O(n^3) in the worst
// case. It is the unbiased reference strategy, useful for small batches and
// debugging, and the default when no other policy is requested.
type BatchAll struct{}

// Name implements Strategy.
func (BatchAll) Name() string { return "all" }

// Mine implements Strategy.
func (BatchAll) Mine(_ *mat.Dense, labels []int) []Triplet {
	var triplets []Triplet
	n := len(labels)
	for a := 0; a < n; a++ {
		for p := 0; p < n; p++ {
			if p == a || labels[p] != labels[a] {
				continue
			}
			for neg := 0; neg < n; neg++ {
				if labels[neg] == labels[a] {
					continue
				}
				triplets = append(triplets, Triplet{Anchor: a, Positive: p, Negative: neg})
			}
		}
	}
	return triplets
}

// HardestNegative selects, for every valid (anchor, positive) pair, the
// single negative closest to the anchor: exactly one triplet per pair.
type HardestNegative struct{}

// Name implements Strategy.
func (HardestNegative) Name() string { return "hardest-neg" }

// Mine implements Strategy.
func (HardestNegative) Mine(distances *mat.Dense, labels []int) []Triplet {
	var triplets []Triplet
	n := len(labels)
	for a := 0; a < n; a++ {
		neg := hardestNegativeFor(distances, labels, a)
		if neg < 0 {
			continue
		}
		for p := 0; p < n; p++ {
			if p == a || labels[p] != labels[a] {
				continue
			}
			triplets = append(triplets, Triplet{Anchor: a, Positive: p, Negative: neg})
		}
	}
	return triplets
}

// HardestPositiveNegative selects, per anchor, the positive furthest from the
// anchor and the negative closest to it: at most one triplet per anchor.
//
// This is the most aggressive mining policy. On noisy labels the "hardest"
// examples are frequently the mislabeled ones, so it is also the policy most
// prone to destabilizing training; prefer SemiHardNegative on noisy data.
type HardestPositiveNegative struct{}

// Name implements Strategy.
func (HardestPositiveNegative) Name() string { return "hardest-pos-neg" }

// Mine implements Strategy.
func (HardestPositiveNegative) Mine(distances *mat.Dense, labels []int) []Triplet {
	var triplets []Triplet
	n := len(labels)
	for a := 0; a < n; a++ {
		pos := -1
		for p := 0; p < n; p++ {
			if p == a || labels[p] != labels[a] {
				continue
			}
			if pos < 0 || distances.At(a, p) > distances.At(a, pos) {
				pos = p
			}
		}
		neg := hardestNegativeFor(distances, labels, a)
		if pos < 0 || neg < 0 {
			continue
		}
		triplets = append(triplets, Triplet{Anchor: a, Positive: pos, Negative: neg})
	}
	return triplets
}

// SemiHardNegative keeps, for every valid (anchor, positive) pair, the
// Negatives qualifying negatives -- those at least as far from the anchor as
// the positive -- ranked by smallest `d(a,n) - d(a,p)`: the
// closest-but-still-harder-than-positive negatives. This skips the very
// hardest (often mislabeled or outlier) negatives while keeping informative
// gradient.
//
// Ranking policy: ascending `d(a,n) - d(a,p)`, ties broken by lowest negative
// index. If fewer than Negatives qualifying negatives exist for a pair, the
// ones that exist are kept: no padding, no error.
type SemiHardNegative struct {
	// Negatives kept per (anchor, positive) pair.
	Negatives int
}

// Name implements Strategy.
func (SemiHardNegative) Name() string { return "semihard-neg" }

// Mine implements Strategy.
func (s SemiHardNegative) Mine(distances *mat.Dense, labels []int) []Triplet {
	k := s.Negatives
	if k <= 0 {
		k = DefaultSemiHardNegatives
	}
	var triplets []Triplet
	n := len(labels)
	candidates := make([]int, 0, n)
	for a := 0; a < n; a++ {
		for p := 0; p < n; p++ {
			if p == a || labels[p] != labels[a] {
				continue
			}
			posDist := distances.At(a, p)
			candidates = candidates[:0]
			for neg := 0; neg < n; neg++ {
				if labels[neg] == labels[a] || distances.At(a, neg) < posDist {
					continue
				}
				candidates = append(candidates, neg)
			}
			sort.SliceStable(candidates, func(i, j int) bool {
				di := distances.At(a, candidates[i]) - posDist
				dj := distances.At(a, candidates[j]) - posDist
				if di != dj {
					return di < dj
				}
				return candidates[i] < candidates[j]
			})
			kept := candidates
			if len(kept) > k {
				kept = kept[:k]
			}
			for _, neg := range kept {
				triplets = append(triplets, Triplet{Anchor: a, Positive: p, Negative: neg})
			}
		}
	}
	return triplets
}

// hardestNegativeFor returns the different-class index closest to anchor, or
// -1 when every element shares the anchor's class. Ties keep the lowest
// index.
func hardestNegativeFor(distances *mat.Dense, labels []int, anchor int) int {
	neg := -1
	for j := range labels {
		if labels[j] == labels[anchor] {
			continue
		}
		if neg < 0 || distances.At(anchor, j) < distances.At(anchor, neg) {
			neg = j
		}
	}
	return neg
}
