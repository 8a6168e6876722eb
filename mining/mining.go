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

// Package mining implements the online example-mining strategies for
// metric-learning: given the pairwise distance matrix of a batch and its
// labels, each strategy decides which (anchor, positive, negative) triplets
// -- or which pairs, for contrastive losses -- contribute gradient signal.
//
// Mining happens on the host, over a materialized distance matrix, and the
// selected indices are fed back into the loss graph (see package losses).
// All strategies are deterministic: ties for "hardest" resolve to the lowest
// index.
package mining

import (
	. "github.com/gomlx/exceptions"
	"golang.org/x/exp/maps"
	"gonum.org/v1/gonum/mat"
)

// Triplet indexes an (anchor, positive, negative) triple within a batch.
// It is valid only when labels[Anchor] == labels[Positive],
// labels[Anchor] != labels[Negative] and Anchor != Positive.
type Triplet struct {
	Anchor, Positive, Negative int
}

// Pair indexes a pair of batch elements for contrastive losses. Same tells
// whether the two elements share a class.
type Pair struct {
	Left, Right int
	Same        bool
}

// Strategy selects the triplets of a batch that enter the triplet loss.
//
// distances is the batch's pairwise distance matrix (see package distances)
// and labels the per-row class ids, aligned by index. A batch with no valid
// triplet yields an empty result -- never an error; the loss for such a batch
// is zero.
type Strategy interface {
	Name() string
	Mine(distances *mat.Dense, labels []int) []Triplet
}

// DefaultSemiHardNegatives is the number of negatives kept per
// (anchor, positive) pair by SemiHardNegative when not configured.
const DefaultSemiHardNegatives = 10

var strategiesByName = map[string]func(semiHardNegatives int) Strategy{
	"all":             func(int) Strategy { return BatchAll{} },
	"hardest-neg":     func(int) Strategy { return HardestNegative{} },
	"hardest-pos-neg": func(int) Strategy { return HardestPositiveNegative{} },
	"semihard-neg": func(k int) Strategy {
		if k <= 0 {
			k = DefaultSemiHardNegatives
		}
		return SemiHardNegative{Negatives: k}
	},
}

// StrategyByName returns the triplet sampling strategy registered under name,
// or panics listing the valid names. semiHardNegatives configures
// SemiHardNegative and is ignored by the other strategies; values <= 0 select
// DefaultSemiHardNegatives.
//
// Valid names: "all", "semihard-neg", "hardest-neg", "hardest-pos-neg".
func StrategyByName(name string, semiHardNegatives int) Strategy {
	builder, found := strategiesByName[name]
	if !found {
		Panicf("unknown triplet sampling strategy %q, valid values are %v", name, maps.Keys(strategiesByName))
	}
	return builder(semiHardNegatives)
}
