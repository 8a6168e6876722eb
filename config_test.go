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

package metriclearn_test

import (
	"math"
	"testing"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/gomlx/metriclearn"
	"github.com/gomlx/metriclearn/internal/testutil"
	"github.com/gomlx/metriclearn/optimizers"
)

func TestNewLossConfigErrors(t *testing.T) {
	require.Panics(t, func() { metriclearn.NewLossConfig("bogus", metriclearn.Options{}) })
	require.Panics(t, func() {
		metriclearn.NewLossConfig("triplet", metriclearn.Options{Strategy: "bogus"})
	})
	require.Panics(t, func() {
		metriclearn.NewLossConfig("triplet", metriclearn.Options{Distance: "bogus"})
	})
	require.Panics(t, func() {
		// Classification-head losses need the class count.
		metriclearn.NewLossConfig("arcface", metriclearn.Options{})
	})
}

func TestLossConfigDefaults(t *testing.T) {
	triplet := metriclearn.NewLossConfig("triplet", metriclearn.Options{})
	assert.Equal(t, "triplet", triplet.Name)
	assert.Equal(t, "euclidean", triplet.EvalMetric.Name())
	assert.False(t, triplet.HasLossParameters())
	assert.True(t, triplet.Mines())
	assert.Contains(t, triplet.Params, "strategy: all")

	contrastive := metriclearn.NewLossConfig("contrastive", metriclearn.Options{})
	assert.Equal(t, "euclidean", contrastive.EvalMetric.Name())
	assert.True(t, contrastive.Mines())
	assert.Contains(t, contrastive.Params, "pairs: online")

	arcface := metriclearn.NewLossConfig("arcface", metriclearn.Options{NumClasses: 10})
	assert.True(t, arcface.HasLossParameters())
	assert.False(t, arcface.Mines())
	assert.Contains(t, arcface.Params, "margin: 0.20")
	assert.Contains(t, arcface.Params, "scale: 7.00")

	// A negative margin requests a margin of exactly 0; zero keeps the
	// default.
	zeroMargin := metriclearn.NewLossConfig("triplet", metriclearn.Options{Margin: -1})
	assert.Contains(t, zeroMargin.Params, "margin: 0.00")
	assert.Contains(t, triplet.Params, "margin: 2.00")
}

func TestOptimizerAssemblyErrors(t *testing.T) {
	cfg := metriclearn.NewLossConfig("softmax", metriclearn.Options{NumClasses: 10})
	require.Panics(t, func() { cfg.Optimizer("bogus", 0.01, 0.1) })
	// The entailment task only pairs with the mined losses.
	require.Panics(t, func() { cfg.Optimizer("snli", 0.01, 0.1) })
	require.NotPanics(t, func() {
		metriclearn.NewLossConfig("triplet", metriclearn.Options{}).Optimizer("snli", 0.01, 0.1)
	})
}

func TestOptimizerAssemblyGroups(t *testing.T) {
	ctx := context.New()

	// ArcFace on the image task: separate model and loss groups.
	arcface := metriclearn.NewLossConfig("arcface", metriclearn.Options{NumClasses: 10})
	opt := arcface.Optimizer("mnist", 0.01, 0.1)
	groups := opt.Groups()
	require.Len(t, groups, 2)
	assert.Equal(t, "model", groups[0].Name)
	assert.Equal(t, "loss", groups[1].Name)
	assert.Equal(t, "sgd", groups[0].Method.Name())
	assert.InDelta(t, 0.01, tensors.ToScalar[float64](groups[0].LearningRateVar(ctx).Value()), 1e-12)
	assert.InDelta(t, 0.1, tensors.ToScalar[float64](groups[1].LearningRateVar(ctx).Value()), 1e-12)

	// Triplet owns no parameters: a single group claiming everything.
	triplet := metriclearn.NewLossConfig("triplet", metriclearn.Options{})
	groups = triplet.Optimizer("mnist", 0.01, 0.1).Groups()
	require.Len(t, groups, 1)
	assert.Empty(t, groups[0].ScopePrefix)
	assert.NotNil(t, groups[0].Schedule)

	// Text tasks train with RMSProp.
	groups = triplet.Optimizer("sts", 0.01, 0.1).Groups()
	require.Len(t, groups, 1)
	assert.Equal(t, "rmsprop", groups[0].Method.Name())

	// KL divergence trains with a bare RMSProp, no schedule.
	kldiv := metriclearn.NewLossConfig("kldiv", metriclearn.Options{NumClasses: 10})
	groups = kldiv.Optimizer("sts", 0.01, 0.1).Groups()
	require.Len(t, groups, 1)
	assert.Nil(t, groups[0].Schedule)
}

// sgdSettings exposes the SGD hyperparameters for inspection.
type sgdSettings interface {
	Momentum() float64
	WeightDecay() float64
}

// rmsPropSettings exposes the RMSProp hyperparameters for inspection.
type rmsPropSettings interface {
	Momentum() float64
	Rho() float64
}

func requireSGD(t *testing.T, grp *optimizers.Group) sgdSettings {
	t.Helper()
	settings, ok := grp.Method.(sgdSettings)
	require.Truef(t, ok, "group %q method %q is not SGD", grp.Name, grp.Method.Name())
	return settings
}

func requireStepSchedule(t *testing.T, grp *optimizers.Group) *optimizers.StepSchedule {
	t.Helper()
	step, ok := grp.Schedule.(*optimizers.StepSchedule)
	require.Truef(t, ok, "group %q has no step schedule", grp.Name)
	return step
}

func TestImageOptimizerRecipes(t *testing.T) {
	// Single-group losses: SGD with momentum 0.9 and weight decay 5e-4 on
	// every parameter, decaying per loss.
	singleGroupDecays := map[string]struct {
		every int
		gamma float64
	}{
		"softmax":     {10, 0.5},
		"center":      {20, 0.8},
		"contrastive": {4, 0.8},
		"triplet":     {5, 0.8},
	}
	for name, want := range singleGroupDecays {
		cfg := metriclearn.NewLossConfig(name, metriclearn.Options{NumClasses: 10})
		groups := cfg.Optimizer("mnist", 0.01, 0.1).Groups()
		require.Lenf(t, groups, 1, "loss %s", name)
		sgd := requireSGD(t, groups[0])
		assert.InDeltaf(t, 0.9, sgd.Momentum(), 1e-12, "loss %s", name)
		assert.InDeltaf(t, 5e-4, sgd.WeightDecay(), 1e-12, "loss %s", name)
		step := requireStepSchedule(t, groups[0])
		assert.Equalf(t, want.every, step.Every, "loss %s", name)
		assert.InDeltaf(t, want.gamma, step.Gamma, 1e-12, "loss %s", name)
	}

	// ArcFace: the margin weights train with plain SGD, no momentum and no
	// weight decay, decaying (8, 0.8) against the extractor's (8, 0.6).
	arcface := metriclearn.NewLossConfig("arcface", metriclearn.Options{NumClasses: 10})
	groups := arcface.Optimizer("mnist", 0.01, 0.1).Groups()
	require.Len(t, groups, 2)
	model := requireSGD(t, groups[0])
	assert.InDelta(t, 0.9, model.Momentum(), 1e-12)
	assert.InDelta(t, 5e-4, model.WeightDecay(), 1e-12)
	modelStep := requireStepSchedule(t, groups[0])
	assert.Equal(t, 8, modelStep.Every)
	assert.InDelta(t, 0.6, modelStep.Gamma, 1e-12)
	loss := requireSGD(t, groups[1])
	assert.Zero(t, loss.Momentum())
	assert.Zero(t, loss.WeightDecay())
	lossStep := requireStepSchedule(t, groups[1])
	assert.Equal(t, 8, lossStep.Every)
	assert.InDelta(t, 0.8, lossStep.Gamma, 1e-12)

	// CoCo: the centers train with momentum but no weight decay, and only
	// the model group decays.
	coco := metriclearn.NewLossConfig("coco", metriclearn.Options{NumClasses: 10})
	groups = coco.Optimizer("mnist", 0.01, 0.1).Groups()
	require.Len(t, groups, 2)
	model = requireSGD(t, groups[0])
	assert.InDelta(t, 0.9, model.Momentum(), 1e-12)
	assert.InDelta(t, 5e-4, model.WeightDecay(), 1e-12)
	modelStep = requireStepSchedule(t, groups[0])
	assert.Equal(t, 10, modelStep.Every)
	assert.InDelta(t, 0.5, modelStep.Gamma, 1e-12)
	loss = requireSGD(t, groups[1])
	assert.InDelta(t, 0.9, loss.Momentum(), 1e-12)
	assert.Zero(t, loss.WeightDecay())
	assert.Nil(t, groups[1].Schedule)
}

func TestTextOptimizerRecipes(t *testing.T) {
	plateauOf := func(grp *optimizers.Group) *optimizers.PlateauSchedule {
		plateau, ok := grp.Schedule.(*optimizers.PlateauSchedule)
		require.Truef(t, ok, "group %q has no plateau schedule", grp.Name)
		return plateau
	}

	// Mined losses: RMSProp with momentum 0.9, single group.
	triplet := metriclearn.NewLossConfig("triplet", metriclearn.Options{})
	groups := triplet.Optimizer("sts", 0.01, 0.1).Groups()
	require.Len(t, groups, 1)
	settings, ok := groups[0].Method.(rmsPropSettings)
	require.True(t, ok)
	assert.InDelta(t, 0.9, settings.Momentum(), 1e-12)
	plateau := plateauOf(groups[0])
	assert.InDelta(t, 0.5, plateau.Factor, 1e-12)
	assert.Equal(t, 5, plateau.Patience)

	// Classification heads: plain RMSProp per group, both on plateau decay.
	arcface := metriclearn.NewLossConfig("arcface", metriclearn.Options{NumClasses: 10})
	groups = arcface.Optimizer("ami", 0.01, 0.1).Groups()
	require.Len(t, groups, 2)
	for _, grp := range groups {
		settings, ok := grp.Method.(rmsPropSettings)
		require.Truef(t, ok, "group %q", grp.Name)
		assert.Zerof(t, settings.Momentum(), "group %q", grp.Name)
		assert.InDelta(t, optimizers.RMSPropDefaultRho, settings.Rho(), 1e-12)
		plateau := plateauOf(grp)
		assert.InDelta(t, 0.5, plateau.Factor, 1e-12)
		assert.Equal(t, 5, plateau.Patience)
	}
}

func TestMineAndLossTriplet(t *testing.T) {
	cfg := metriclearn.NewLossConfig("triplet", metriclearn.Options{Margin: 1.0, Scale: 1.0, SumReduction: true})
	embeddings := mat.NewDense(6, 1, []float64{0, 1, 2, 4, 5, 6})
	labels := []int{0, 0, 0, 1, 1, 1}

	mined, ok := cfg.Mine(embeddings, labels)
	require.True(t, ok)
	require.Len(t, mined, 3)

	ctx := context.New()
	exec := context.NewExec(testutil.Backend(), ctx,
		func(ctx *context.Context, embeddings, labels, anchors, positives, negatives *Node) *Node {
			return cfg.Loss(ctx, embeddings, labels, anchors, positives, negatives)
		})
	args := []any{
		tensors.FromFlatDataAndDimensions([]float64{0, 1, 2, 4, 5, 6}, 6, 1),
		tensors.FromFlatDataAndDimensions([]int32{0, 0, 0, 1, 1, 1}, 6),
		mined[0], mined[1], mined[2],
	}
	outputs := exec.Call(args...)
	assert.InDelta(t, 2.0, tensors.ToScalar[float64](outputs[0]), 1e-4)
}

func TestMineEmptyBatch(t *testing.T) {
	cfg := metriclearn.NewLossConfig("triplet", metriclearn.Options{})
	// Every class appears once: no triplet, the batch must be skipped.
	embeddings := mat.NewDense(3, 2, []float64{0, 0, 1, 0, 0, 1})
	_, ok := cfg.Mine(embeddings, []int{0, 1, 2})
	assert.False(t, ok)

	// Losses without mining always proceed.
	softmax := metriclearn.NewLossConfig("softmax", metriclearn.Options{NumClasses: 3})
	mined, ok := softmax.Mine(embeddings, []int{0, 1, 2})
	assert.True(t, ok)
	assert.Empty(t, mined)
}

func TestLossHeadsProduceFiniteScalars(t *testing.T) {
	embeddings := tensors.FromFlatDataAndDimensions([]float64{
		1, 0,
		0, 1,
		-1, 0,
		0, -1,
	}, 4, 2)
	labels := tensors.FromFlatDataAndDimensions([]int32{0, 1, 0, 1}, 4)

	for _, name := range []string{"softmax", "arcface", "center", "coco"} {
		cfg := metriclearn.NewLossConfig(name, metriclearn.Options{NumClasses: 2})
		ctx := context.New()
		exec := context.NewExec(testutil.Backend(), ctx,
			func(ctx *context.Context, embeddings, labels *Node) *Node {
				return cfg.Loss(ctx, embeddings, labels)
			})
		outputs := exec.Call(embeddings, labels)
		got := tensors.ToScalar[float64](outputs[0])
		assert.Falsef(t, math.IsNaN(got) || math.IsInf(got, 0), "%s: loss is %v", name, got)
	}
}

func TestKLDivLossGraph(t *testing.T) {
	cfg := metriclearn.NewLossConfig("kldiv", metriclearn.Options{NumClasses: 2})
	ctx := context.New()
	exec := context.NewExec(testutil.Backend(), ctx,
		func(ctx *context.Context, embeddings, targets *Node) *Node {
			return cfg.Loss(ctx, embeddings, targets)
		})
	embeddings := tensors.FromFlatDataAndDimensions([]float64{1, 0, 0, 1}, 2, 2)
	targets := tensors.FromFlatDataAndDimensions([]float64{0.7, 0.3, 0.2, 0.8}, 2, 2)
	outputs := exec.Call(embeddings, targets)
	got := tensors.ToScalar[float64](outputs[0])
	assert.False(t, math.IsNaN(got))
	assert.GreaterOrEqual(t, got, 0.0)
}
