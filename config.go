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

package metriclearn

import (
	"fmt"

	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
	"golang.org/x/exp/maps"
	"gonum.org/v1/gonum/mat"

	"github.com/gomlx/metriclearn/distances"
	"github.com/gomlx/metriclearn/losses"
	"github.com/gomlx/metriclearn/mining"
)

const (
	// ModelScope is the context scope the training loop is expected to build
	// the feature extractor under. The optimizer assembly routes the "model"
	// learning rate to every trainable variable below it.
	ModelScope = "model"

	// LossScope is the context scope LossConfig.Loss creates the
	// loss-module's own parameters under (class centers, angular-margin
	// weights, classifier heads). The optimizer assembly routes the "loss"
	// learning rate to it.
	LossScope = "loss"
)

// Options configures NewLossConfig. The zero value of each field selects the
// loss-specific default documented on the field.
type Options struct {
	// NumClasses is required by the classification-head losses (softmax,
	// arcface, center, coco, kldiv) and ignored by contrastive and triplet.
	NumClasses int

	// Margin of the contrastive and triplet hinges, and the additive angular
	// margin (radians) of arcface. Defaults: 2.0 (contrastive, triplet) and
	// 0.2 (arcface). Zero selects the default; pass a negative value to
	// train with a margin of exactly 0.
	Margin float64

	// Scale is the loss-specific scale knob: the triplet loss multiplier
	// (default 10), the arcface logit scale s (default 7), the coco alpha
	// (default 6.25) and the center-loss weight lambda (default 1).
	Scale float64

	// Distance used for training by contrastive, triplet and center.
	// Defaults to "euclidean" for all three.
	Distance string

	// Strategy names the triplet mining strategy, one of "all",
	// "hardest-neg", "hardest-pos-neg" and "semihard-neg". Defaults to
	// "all". Only used by the triplet loss.
	Strategy string

	// SemiHardNegatives is the per-pair negative count of the
	// "semihard-neg" strategy. Defaults to mining.DefaultSemiHardNegatives.
	SemiHardNegatives int

	// OfflinePairs forces the contrastive loss to use every in-batch pair
	// instead of the mined hardest subset it defaults to.
	OfflinePairs bool

	// SumReduction selects sum-over-examples reduction instead of the
	// default mean-over-examples.
	SumReduction bool

	// CenterAlpha is the moving-average rate of the center-loss center
	// updates. Defaults to 0.5.
	CenterAlpha float64
}

// LossConfig bundles one metric-learning objective: its loss formula, the
// mining it needs, the distance used at evaluation time and the optimizer
// assembly for it. Build one with NewLossConfig.
type LossConfig struct {
	// Name the config was built with, one of the keys accepted by
	// NewLossConfig.
	Name string

	// Params is a human-readable summary of the hyperparameters in effect,
	// for logging.
	Params string

	// EvalMetric is the distance to use when evaluating or visualizing
	// neighbor structure of held-out embeddings.
	EvalMetric distances.Metric

	trainMetric distances.Metric
	sizeAverage bool
	numClasses  int

	contrastive *losses.Contrastive
	triplet     *losses.Triplet
	arcface     *losses.ArcFace
	center      *losses.SoftmaxCenter
	coco        *losses.Coco
	softmax     *losses.Softmax
	kldiv       bool
}

// lossConfigBuilders is the dispatch table from loss name to builder,
// consulted by NewLossConfig.
var lossConfigBuilders = map[string]func(opts Options) *LossConfig{
	"contrastive": newContrastiveConfig,
	"triplet":     newTripletConfig,
	"arcface":     newArcFaceConfig,
	"center":      newCenterConfig,
	"coco":        newCocoConfig,
	"softmax":     newSoftmaxConfig,
	"kldiv":       newKLDivConfig,
}

// NewLossConfig builds the LossConfig registered under name, or panics
// listing the valid names. Valid names are "contrastive", "triplet",
// "arcface", "center", "coco", "softmax" and "kldiv".
func NewLossConfig(name string, opts Options) *LossConfig {
	builder, found := lossConfigBuilders[name]
	if !found {
		Panicf("unknown loss %q, valid values are %v", name, maps.Keys(lossConfigBuilders))
	}
	return builder(opts)
}

func defaultFloat(value, defaultValue float64) float64 {
	if value == 0 {
		return defaultValue
	}
	return value
}

func defaultString(value, defaultValue string) string {
	if value == "" {
		return defaultValue
	}
	return value
}

// defaultMargin resolves Options.Margin: zero selects the loss default,
// negative values select a margin of exactly 0.
func defaultMargin(value, defaultValue float64) float64 {
	if value < 0 {
		return 0
	}
	return defaultFloat(value, defaultValue)
}

func newContrastiveConfig(opts Options) *LossConfig {
	margin := defaultMargin(opts.Margin, 2.0)
	metric := distances.MetricByName(defaultString(opts.Distance, "euclidean"))
	online := !opts.OfflinePairs
	mode := "online"
	if !online {
		mode = "offline"
	}
	sizeAverage := !opts.SumReduction
	return &LossConfig{
		Name:        "contrastive",
		Params:      fmt.Sprintf("margin: %.2f, metric: %s, pairs: %s", margin, metric.Name(), mode),
		EvalMetric:  metric,
		trainMetric: metric,
		sizeAverage: sizeAverage,
		contrastive: &losses.Contrastive{
			Margin:      margin,
			Metric:      metric,
			SizeAverage: sizeAverage,
			Online:      online,
		},
	}
}

func newTripletConfig(opts Options) *LossConfig {
	margin := defaultMargin(opts.Margin, 2.0)
	scaling := defaultFloat(opts.Scale, 10.0)
	metric := distances.MetricByName(defaultString(opts.Distance, "euclidean"))
	semiHard := opts.SemiHardNegatives
	if semiHard <= 0 {
		semiHard = mining.DefaultSemiHardNegatives
	}
	strategy := mining.StrategyByName(defaultString(opts.Strategy, "all"), semiHard)
	return &LossConfig{
		Name: "triplet",
		Params: fmt.Sprintf("margin: %.2f, scaling: %.2f, metric: %s, strategy: %s",
			margin, scaling, metric.Name(), strategy.Name()),
		EvalMetric:  metric,
		trainMetric: metric,
		sizeAverage: !opts.SumReduction,
		triplet: &losses.Triplet{
			Margin:      margin,
			Scaling:     scaling,
			Metric:      metric,
			SizeAverage: !opts.SumReduction,
			Strategy:    strategy,
		},
	}
}

func newArcFaceConfig(opts Options) *LossConfig {
	margin := defaultMargin(opts.Margin, 0.2)
	scale := defaultFloat(opts.Scale, 7.0)
	requireClasses("arcface", opts.NumClasses)
	return &LossConfig{
		Name:        "arcface",
		Params:      fmt.Sprintf("margin: %.2f, scale: %.2f", margin, scale),
		EvalMetric:  distances.Cosine{},
		sizeAverage: !opts.SumReduction,
		numClasses:  opts.NumClasses,
		arcface: &losses.ArcFace{
			NumClasses:  opts.NumClasses,
			Margin:      margin,
			Scale:       scale,
			SizeAverage: !opts.SumReduction,
		},
	}
}

func newCenterConfig(opts Options) *LossConfig {
	lambda := defaultFloat(opts.Scale, 1.0)
	alpha := defaultFloat(opts.CenterAlpha, 0.5)
	metric := distances.MetricByName(defaultString(opts.Distance, "euclidean"))
	requireClasses("center", opts.NumClasses)
	return &LossConfig{
		Name:        "center",
		Params:      fmt.Sprintf("lambda: %.2f, alpha: %.2f, metric: %s", lambda, alpha, metric.Name()),
		EvalMetric:  metric,
		trainMetric: metric,
		sizeAverage: !opts.SumReduction,
		numClasses:  opts.NumClasses,
		center: &losses.SoftmaxCenter{
			NumClasses:  opts.NumClasses,
			Lambda:      lambda,
			Alpha:       alpha,
			Metric:      metric,
			SizeAverage: !opts.SumReduction,
		},
	}
}

func newCocoConfig(opts Options) *LossConfig {
	alpha := defaultFloat(opts.Scale, 6.25)
	requireClasses("coco", opts.NumClasses)
	return &LossConfig{
		Name:        "coco",
		Params:      fmt.Sprintf("alpha: %.2f", alpha),
		EvalMetric:  distances.Cosine{},
		sizeAverage: !opts.SumReduction,
		numClasses:  opts.NumClasses,
		coco: &losses.Coco{
			NumClasses:  opts.NumClasses,
			Alpha:       alpha,
			SizeAverage: !opts.SumReduction,
		},
	}
}

func newSoftmaxConfig(opts Options) *LossConfig {
	requireClasses("softmax", opts.NumClasses)
	return &LossConfig{
		Name:        "softmax",
		Params:      "plain cross-entropy",
		EvalMetric:  distances.Cosine{},
		sizeAverage: !opts.SumReduction,
		numClasses:  opts.NumClasses,
		softmax: &losses.Softmax{
			NumClasses:  opts.NumClasses,
			SizeAverage: !opts.SumReduction,
		},
	}
}

func newKLDivConfig(opts Options) *LossConfig {
	requireClasses("kldiv", opts.NumClasses)
	return &LossConfig{
		Name:        "kldiv",
		Params:      "KL divergence to target distribution",
		EvalMetric:  distances.Cosine{},
		sizeAverage: !opts.SumReduction,
		numClasses:  opts.NumClasses,
		kldiv:       true,
	}
}

func requireClasses(lossName string, numClasses int) {
	if numClasses <= 0 {
		Panicf("loss %q requires Options.NumClasses > 0, got %d", lossName, numClasses)
	}
}

// HasLossParameters tells whether the loss owns trainable parameters of its
// own (class centers, angular-margin weights, classifier heads), in which
// case the optimizer assembly builds a separate parameter group for them.
func (c *LossConfig) HasLossParameters() bool {
	switch c.Name {
	case "contrastive", "triplet":
		return false
	}
	return true
}

// Mines tells whether the loss needs host-side mining: if true the training
// loop must call Mine between the embedding forward pass and building (or
// executing) the loss graph.
func (c *LossConfig) Mines() bool {
	return c.contrastive != nil || c.triplet != nil
}

// Mine selects the pairs or triplets of a batch that will contribute to the
// loss, from the host-side embedding matrix (`[batchSize, embedDim]`) and
// labels. It returns the index tensors to feed the Loss graph, in the order
// Loss expects its mined arguments.
//
// ok is false when the batch yields no valid pair/triplet, in which case the
// batch contributes zero loss and must be skipped. Losses that do not mine
// return (nil, true).
func (c *LossConfig) Mine(embeddings mat.Matrix, labels []int) (mined []*tensors.Tensor, ok bool) {
	switch {
	case c.contrastive != nil:
		dists := c.trainMetric.PairwiseMatrix(embeddings)
		pairs := c.contrastive.Mine(dists, labels)
		if len(pairs) == 0 {
			return nil, false
		}
		lefts, rights, same := losses.PairsToTensors(pairs)
		return []*tensors.Tensor{lefts, rights, same}, true
	case c.triplet != nil:
		dists := c.trainMetric.PairwiseMatrix(embeddings)
		triplets := c.triplet.Mine(dists, labels)
		if len(triplets) == 0 {
			return nil, false
		}
		anchors, positives, negatives := losses.TripletsToTensors(triplets)
		return []*tensors.Tensor{anchors, positives, negatives}, true
	}
	return nil, true
}

// Loss builds the scalar training loss of a batch.
//
// embeddings is the `[batchSize, embedDim]` output of the feature extractor.
// For every loss but "kldiv", labels is the `[batchSize]` integer class
// vector; for "kldiv" it is the `[batchSize, numClasses]` target
// distribution. mined are the graph nodes of the tensors returned by Mine,
// in the same order, and must be empty for losses that do not mine.
//
// Loss-module parameters are created under the LossScope sub-scope of ctx.
func (c *LossConfig) Loss(ctx *context.Context, embeddings, labels *Node, mined ...*Node) *Node {
	lossCtx := ctx.In(LossScope)
	switch {
	case c.contrastive != nil:
		c.requireMined(len(mined), 3)
		return c.contrastive.Loss(embeddings, mined[0], mined[1], mined[2])
	case c.triplet != nil:
		c.requireMined(len(mined), 3)
		return c.triplet.Loss(embeddings, mined[0], mined[1], mined[2])
	case c.arcface != nil:
		c.requireMined(len(mined), 0)
		return c.arcface.Loss(lossCtx, embeddings, labels)
	case c.center != nil:
		c.requireMined(len(mined), 0)
		return c.center.Loss(lossCtx, embeddings, labels)
	case c.coco != nil:
		c.requireMined(len(mined), 0)
		return c.coco.Loss(lossCtx, embeddings, labels)
	case c.softmax != nil:
		c.requireMined(len(mined), 0)
		return c.softmax.Loss(lossCtx, embeddings, labels)
	case c.kldiv:
		c.requireMined(len(mined), 0)
		logits := losses.SoftmaxLinear(lossCtx, embeddings, c.numClasses)
		return losses.KLDivergence(logits, labels, c.sizeAverage)
	}
	Panicf("LossConfig %q was not built by NewLossConfig", c.Name)
	return nil
}

func (c *LossConfig) requireMined(got, want int) {
	if got != want {
		Panicf("loss %q takes %d mined index tensors, got %d", c.Name, want, got)
	}
}
