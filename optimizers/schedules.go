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

package optimizers

// This file implements the epoch-wise learning rate schedules. They run on
// the host between epochs, mutating the group's learning-rate variable
// directly, so graphs built with the variable pick the new value up on their
// next execution.

import (
	"math"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
)

// Schedule adjusts a group's learning rate at epoch boundaries.
type Schedule interface {
	// OnEpochEnd is called once per finished epoch with the group's
	// learning-rate variable and the watched validation metric. Schedules
	// that only count epochs ignore the metric.
	OnEpochEnd(lrVar *context.Variable, metric float64)
}

// readLearningRate extracts the scalar value of a learning-rate variable.
func readLearningRate(lrVar *context.Variable) float64 {
	return tensors.ToScalar[float64](lrVar.Value())
}

// writeLearningRate stores a new scalar value into a learning-rate variable.
func writeLearningRate(lrVar *context.Variable, value float64) {
	lrVar.SetValue(tensors.FromScalar(value))
}

// StepSchedule multiplies the learning rate by Gamma every Every epochs.
// After k*Every epochs the learning rate is the initial one times Gamma^k.
type StepSchedule struct {
	Every int     // Epochs between decays, must be > 0.
	Gamma float64 // Multiplicative decay, usually in (0, 1).

	epoch int
}

// NewStepSchedule creates a StepSchedule decaying by gamma every given number
// of epochs.
func NewStepSchedule(every int, gamma float64) *StepSchedule {
	if every <= 0 {
		Panicf("StepSchedule period must be positive, got %d", every)
	}
	return &StepSchedule{Every: every, Gamma: gamma}
}

// OnEpochEnd implements Schedule.
func (s *StepSchedule) OnEpochEnd(lrVar *context.Variable, _ float64) {
	s.epoch++
	if s.epoch%s.Every != 0 {
		return
	}
	writeLearningRate(lrVar, readLearningRate(lrVar)*s.Gamma)
}

// PlateauMode tells a PlateauSchedule which direction of the watched metric
// counts as improvement.
type PlateauMode int

const (
	// PlateauMax treats larger metric values as better (accuracy,
	// correlation).
	PlateauMax PlateauMode = iota

	// PlateauMin treats smaller metric values as better (validation loss).
	PlateauMin
)

// PlateauSchedule multiplies the learning rate by Factor once the watched
// metric has stopped improving for more than Patience consecutive epochs.
type PlateauSchedule struct {
	Factor   float64     // Multiplicative decay applied on a plateau.
	Patience int         // Epochs without improvement tolerated before decaying.
	Mode     PlateauMode // Improvement direction.
	MinDelta float64     // Smallest metric change counting as improvement.

	best float64
	wait int
	seen bool
}

// NewPlateauSchedule creates a PlateauSchedule with the given decay factor
// and patience, watching a metric where larger is better.
func NewPlateauSchedule(factor float64, patience int) *PlateauSchedule {
	return &PlateauSchedule{Factor: factor, Patience: patience, Mode: PlateauMax}
}

// improved tells whether metric is better than the best seen so far by more
// than MinDelta.
func (s *PlateauSchedule) improved(metric float64) bool {
	if !s.seen {
		return true
	}
	if s.Mode == PlateauMin {
		return metric < s.best-s.MinDelta
	}
	return metric > s.best+s.MinDelta
}

// OnEpochEnd implements Schedule.
func (s *PlateauSchedule) OnEpochEnd(lrVar *context.Variable, metric float64) {
	if math.IsNaN(metric) {
		metric = math.Inf(1)
		if s.Mode == PlateauMax {
			metric = math.Inf(-1)
		}
	}
	if s.improved(metric) {
		s.best = metric
		s.seen = true
		s.wait = 0
		return
	}
	s.wait++
	if s.wait <= s.Patience {
		return
	}
	writeLearningRate(lrVar, readLearningRate(lrVar)*s.Factor)
	s.wait = 0
}
