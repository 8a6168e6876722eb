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
	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/ml/context"

	"github.com/gomlx/metriclearn/optimizers"
)

// This file implements the per-task optimizer assembly: which update rule,
// schedule and parameter grouping each (loss, task) combination trains with.

// Tasks the optimizer assembly knows how to train. The image task uses SGD
// with momentum and epoch-step learning-rate decay; the text tasks use
// RMSProp with decay on validation-metric plateaus.
var validTasks = []string{"mnist", "sts", "ami", "sst2", "snli"}

const (
	taskMomentum    = 0.9
	taskWeightDecay = 5e-4

	plateauFactor   = 0.5
	plateauPatience = 5
)

type stepDecay struct {
	every int
	gamma float64
}

// mnistDecay is the per-loss epoch-step learning-rate decay used by the
// image task.
var mnistDecay = map[string]stepDecay{
	"softmax":     {10, 0.5},
	"arcface":     {8, 0.6},
	"center":      {20, 0.8},
	"coco":        {10, 0.5},
	"contrastive": {4, 0.8},
	"triplet":     {5, 0.8},
}

// Optimizer assembles the optimizer for training this loss on the given
// task. modelLR is the learning rate of the feature-extractor parameters
// (under ModelScope); lossLR the one of the loss-module's own parameters
// (under LossScope), conventionally 10x modelLR, used only when the loss has
// parameters of its own. It panics on an unknown task.
func (c *LossConfig) Optimizer(task string, modelLR, lossLR float64) *optimizers.Optimizer {
	switch task {
	case "mnist":
		return c.imageOptimizer(modelLR, lossLR)
	case "sts", "ami", "sst2":
		return c.textOptimizer(modelLR, lossLR)
	case "snli":
		if c.Name != "contrastive" && c.Name != "triplet" {
			Panicf("task %q is only trained with the contrastive and triplet losses, not %q", task, c.Name)
		}
		return c.textOptimizer(modelLR, lossLR)
	}
	Panicf("unknown task %q, valid values are %v", task, validTasks)
	return nil
}

func modelScopePrefix() string { return context.ScopeSeparator + ModelScope }
func lossScopePrefix() string  { return context.ScopeSeparator + LossScope }

// imageOptimizer builds the SGD-based assembly of the image task.
func (c *LossConfig) imageOptimizer(modelLR, lossLR float64) *optimizers.Optimizer {
	if c.kldiv {
		return optimizers.New(&optimizers.Group{
			Name:         "model",
			LearningRate: modelLR,
			Method:       optimizers.RMSProp().Done(),
		})
	}
	decay := mnistDecay[c.Name]
	sgd := func(scope string) *optimizers.SGDConfig {
		return optimizers.SGD().Momentum(taskMomentum).WeightDecay(taskWeightDecay).Scope(scope)
	}
	switch c.Name {
	case "arcface":
		// The margin weights train with plain SGD, decaying slower than the
		// extractor.
		return optimizers.New(
			&optimizers.Group{
				Name:         "model",
				ScopePrefix:  modelScopePrefix(),
				LearningRate: modelLR,
				Method:       sgd("SGDOptimizer-model").Done(),
				Schedule:     optimizers.NewStepSchedule(decay.every, decay.gamma),
			},
			&optimizers.Group{
				Name:         "loss",
				ScopePrefix:  lossScopePrefix(),
				LearningRate: lossLR,
				Method:       optimizers.SGD().Scope("SGDOptimizer-loss").Done(),
				Schedule:     optimizers.NewStepSchedule(decay.every, 0.8),
			})
	case "coco":
		// The cosine centers train with momentum but no weight decay, and
		// their learning rate never decays: only the model group carries the
		// step schedule.
		return optimizers.New(
			&optimizers.Group{
				Name:         "model",
				ScopePrefix:  modelScopePrefix(),
				LearningRate: modelLR,
				Method:       sgd("SGDOptimizer-model").Done(),
				Schedule:     optimizers.NewStepSchedule(decay.every, decay.gamma),
			},
			&optimizers.Group{
				Name:         "loss",
				ScopePrefix:  lossScopePrefix(),
				LearningRate: lossLR,
				Method:       optimizers.SGD().Momentum(taskMomentum).Scope("SGDOptimizer-loss").Done(),
			})
	}
	// Remaining losses train every parameter, loss-module heads included, as
	// a single group.
	return optimizers.New(&optimizers.Group{
		Name:         "model",
		LearningRate: modelLR,
		Method:       sgd("SGDOptimizer-model").Done(),
		Schedule:     optimizers.NewStepSchedule(decay.every, decay.gamma),
	})
}

// textOptimizer builds the RMSProp-based assembly of the text tasks.
func (c *LossConfig) textOptimizer(modelLR, lossLR float64) *optimizers.Optimizer {
	momentum := 0.0
	if c.Name == "contrastive" || c.Name == "triplet" {
		momentum = taskMomentum
	}
	if c.kldiv {
		return optimizers.New(&optimizers.Group{
			Name:         "model",
			LearningRate: modelLR,
			Method:       optimizers.RMSProp().Done(),
		})
	}
	if !c.HasLossParameters() {
		return optimizers.New(&optimizers.Group{
			Name:         "model",
			LearningRate: modelLR,
			Method:       optimizers.RMSProp().Momentum(momentum).Done(),
			Schedule:     optimizers.NewPlateauSchedule(plateauFactor, plateauPatience),
		})
	}
	return optimizers.New(
		&optimizers.Group{
			Name:         "model",
			ScopePrefix:  modelScopePrefix(),
			LearningRate: modelLR,
			Method:       optimizers.RMSProp().Momentum(momentum).Scope("RMSPropOptimizer-model").Done(),
			Schedule:     optimizers.NewPlateauSchedule(plateauFactor, plateauPatience),
		},
		&optimizers.Group{
			Name:         "loss",
			ScopePrefix:  lossScopePrefix(),
			LearningRate: lossLR,
			Method:       optimizers.RMSProp().Momentum(momentum).Scope("RMSPropOptimizer-loss").Done(),
			Schedule:     optimizers.NewPlateauSchedule(plateauFactor, plateauPatience),
		})
}
