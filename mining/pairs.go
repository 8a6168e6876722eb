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
	"gonum.org/v1/gonum/mat"
)

// AllPairs returns every distinct in-batch pair (i < j), labeled by whether
// the two elements share a class. This is the "offline" pair set for
// contrastive losses.
func AllPairs(labels []int) []Pair {
	var pairs []Pair
	n := len(labels)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			pairs = append(pairs, Pair{Left: i, Right: j, Same: labels[i] == labels[j]})
		}
	}
	return pairs
}

// HardestPairs mines the "online" pair set for contrastive losses: every
// same-class pair (i < j), plus one different-class pair per anchor built
// with the anchor's hardest negative -- the same rule HardestNegative uses
// for triplets. Symmetric negative pairs (a,n) and (n,a) may both appear when
// each is the other's hardest negative; they contribute the same distance.
func HardestPairs(distances *mat.Dense, labels []int) []Pair {
	var pairs []Pair
	n := len(labels)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if labels[i] == labels[j] {
				pairs = append(pairs, Pair{Left: i, Right: j, Same: true})
			}
		}
	}
	for a := 0; a < n; a++ {
		if neg := hardestNegativeFor(distances, labels, a); neg >= 0 {
			pairs = append(pairs, Pair{Left: a, Right: neg, Same: false})
		}
	}
	return pairs
}
