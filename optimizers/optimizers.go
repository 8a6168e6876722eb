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

// Package optimizers implements the SGD and RMSProp update rules and the
// learning-rate schedules used to train metric-learning models, with support
// for named parameter groups.
//
// A Group pairs an update Method with its own learning-rate variable and
// (optionally) a Schedule, and claims the trainable variables whose context
// scope starts with the group's ScopePrefix. An Optimizer is a set of groups:
// its UpdateGraph computes the gradients of the loss once and routes each
// variable's gradient to the update rule and learning rate of the group that
// claims it. This is how the loss-module parameters (scoped under "/loss")
// train with a different learning rate, or a different rule altogether, than
// the model parameters (scoped under "/model").
//
// Learning rates live as non-trainable scalar variables, so the host-side
// schedules can adjust them between epochs without rebuilding graphs.
package optimizers

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"golang.org/x/exp/maps"
)

const (
	// GlobalStepVariableName as stored in context.Context, in the root scope.
	GlobalStepVariableName = "global_step"

	// Scope under which the per-group learning-rate variables are stored.
	Scope = "optimizers"

	// LearningRateVariableName of the per-group scalar learning-rate variable.
	LearningRateVariableName = "learning_rate"
)

// Method is one parameter-update rule (SGD, RMSProp). It is applied variable
// by variable; any state it needs (momentum and moving-average buffers) it
// keeps as non-trainable context variables parallel to the trainable ones.
type Method interface {
	// Name of the update rule.
	Name() string

	// ApplyGraph builds the update of one trainable variable given its
	// gradient and the (already dtype-converted) scalar learning rate.
	ApplyGraph(ctx *context.Context, v *context.Variable, grad, learningRate *Node)

	// StateScope is the top-level scope name under which this method instance
	// keeps its state variables. Distinct method instances (one per group)
	// must return distinct scopes.
	StateScope() string
}

// Group is a named set of trainable variables, claimed by context-scope
// prefix, trained with its own learning rate, update rule and schedule.
type Group struct {
	// Name of the group, e.g. "model" or "loss". Used to scope the group's
	// learning-rate variable.
	Name string

	// ScopePrefix claims every trainable variable whose scope equals it or
	// starts with it followed by a scope separator. When several groups
	// match a variable, the longest prefix wins.
	ScopePrefix string

	// LearningRate is the initial learning rate of the group.
	LearningRate float64

	// Method is the update rule applied to the group's variables.
	Method Method

	// Schedule adjusting the group's learning rate between epochs. May be
	// nil, in which case the learning rate stays constant.
	Schedule Schedule
}

// LearningRateVar returns the group's scalar learning-rate variable, creating
// it from Group.LearningRate on first use. It is stored as Float64 and
// converted to each gradient's dtype at graph-building time.
func (grp *Group) LearningRateVar(ctx *context.Context) *context.Variable {
	ctx = ctx.Checked(false).InAbsPath(context.ScopeSeparator + Scope).In(grp.Name)
	return ctx.VariableWithValue(LearningRateVariableName, grp.LearningRate).SetTrainable(false)
}

// Optimizer trains a model by routing each trainable variable to one of its
// named groups. It implements the same UpdateGraph/Clear contract as the
// gomlx train-loop optimizers, so it can drive a train.Trainer directly.
type Optimizer struct {
	groups []*Group
}

// New creates an Optimizer over the given groups. At least one group is
// required; a group with an empty ScopePrefix claims every variable no more
// specific group claims.
func New(groups ...*Group) *Optimizer {
	if len(groups) == 0 {
		Panicf("optimizers.New requires at least one parameter group")
	}
	seen := make(map[string]bool, len(groups))
	for _, grp := range groups {
		if seen[grp.Name] {
			Panicf("duplicate parameter group name %q", grp.Name)
		}
		seen[grp.Name] = true
	}
	return &Optimizer{groups: groups}
}

// Groups returns the optimizer's parameter groups, in the order given to New.
func (o *Optimizer) Groups() []*Group { return o.groups }

// groupFor returns the group claiming a variable scope, preferring the
// longest matching ScopePrefix, or nil if no group matches.
func (o *Optimizer) groupFor(scope string) *Group {
	var best *Group
	for _, grp := range o.groups {
		if !scopeHasPrefix(scope, grp.ScopePrefix) {
			continue
		}
		if best == nil || len(grp.ScopePrefix) > len(best.ScopePrefix) {
			best = grp
		}
	}
	return best
}

// scopeHasPrefix tells whether scope is prefix itself or nested under it.
// An empty prefix matches every scope.
func scopeHasPrefix(scope, prefix string) bool {
	if prefix == "" {
		return true
	}
	if len(scope) < len(prefix) || scope[:len(prefix)] != prefix {
		return false
	}
	return len(scope) == len(prefix) || scope[len(prefix):len(prefix)+1] == context.ScopeSeparator
}

// UpdateGraph builds the graph of one training step: it computes the
// gradients of the scalar loss with respect to every trainable variable in
// use by the graph, and applies each group's update rule with the group's
// learning rate. It panics if some trainable variable is claimed by no group.
func (o *Optimizer) UpdateGraph(ctx *context.Context, g *Graph, loss *Node) {
	if !loss.Shape().IsScalar() {
		Panicf("optimizer requires a scalar loss to optimize, got loss.shape=%s instead", loss.Shape())
	}
	_ = IncrementGlobalStepGraph(ctx, g, loss.DType())

	grads := ctx.BuildTrainableVariablesGradientsGraph(loss)
	if len(grads) == 0 {
		return
	}
	learningRates := make(map[*Group]*Node, len(o.groups))
	for _, grp := range o.groups {
		learningRates[grp] = grp.LearningRateVar(ctx).ValueGraph(g)
	}

	prefixes := make([]string, 0, len(o.groups))
	for _, grp := range o.groups {
		prefixes = append(prefixes, grp.ScopePrefix)
	}
	numTrainable := len(grads)
	ii := 0
	ctx.EnumerateVariables(func(v *context.Variable) {
		if !v.Trainable || !v.InUseByGraph(g) {
			return
		}
		if ii >= numTrainable {
			ii++
			return
		}
		grp := o.groupFor(v.Scope())
		if grp == nil {
			Panicf("trainable variable %q (scope %q) is claimed by no parameter group, group scope prefixes are %v",
				v.Name(), v.Scope(), prefixes)
		}
		grad := grads[ii]
		lr := learningRates[grp]
		if lr.DType() != grad.DType() {
			lr = ConvertDType(lr, grad.DType())
		}
		grp.Method.ApplyGraph(ctx, v, grad, lr)
		ii++
	})
	if ii != numTrainable {
		Panicf("gradients were computed for %d trainable variables but %d were enumerated -- were "+
			"variables created or their Trainable property changed in between?", numTrainable, ii)
	}
}

// OnEpochEnd runs each group's schedule, if any. metric is the validation
// quantity plateau schedules watch; epoch-counting schedules ignore it.
func (o *Optimizer) OnEpochEnd(ctx *context.Context, metric float64) {
	for _, grp := range o.groups {
		if grp.Schedule == nil {
			continue
		}
		grp.Schedule.OnEpochEnd(grp.LearningRateVar(ctx), metric)
	}
}

// Clear deletes the state variables of every group's update rule. Learning
// rates and the global step are kept.
func (o *Optimizer) Clear(ctx *context.Context) {
	type varRef struct{ scope, name string }
	var toDelete []varRef
	for _, grp := range o.groups {
		prefix := context.ScopeSeparator + grp.Method.StateScope()
		ctx.EnumerateVariables(func(v *context.Variable) {
			if scopeHasPrefix(v.Scope(), prefix) {
				toDelete = append(toDelete, varRef{v.Scope(), v.Name()})
			}
		})
	}
	for _, ref := range toDelete {
		ctx.DeleteVariable(ref.scope, ref.name)
	}
}

// GetGlobalStepVar returns the global step counter variable, creating it
// (initialized to 0) if not already there.
func GetGlobalStepVar(ctx *context.Context) *context.Variable {
	return ctx.Checked(false).VariableWithValue(GlobalStepVariableName, int64(0)).SetTrainable(false)
}

// GetGlobalStep returns the current global step value.
func GetGlobalStep(ctx *context.Context) int64 {
	return tensors.ToScalar[int64](GetGlobalStepVar(ctx).Value())
}

// IncrementGlobalStepGraph increments the global step counter at graph
// building time and returns the incremented value, converted to dtype.
func IncrementGlobalStepGraph(ctx *context.Context, g *Graph, dtype dtypes.DType) *Node {
	globalStepVar := GetGlobalStepVar(ctx)
	globalStep := globalStepVar.ValueGraph(g)
	globalStep = Add(globalStep, OnesLike(globalStep))
	globalStepVar.SetValueGraph(globalStep)
	if dtype != dtypes.Int64 {
		globalStep = ConvertDType(globalStep, dtype)
	}
	return globalStep
}

// methodsByName builds a default instance of each known update rule, used by
// ByName.
var methodsByName = map[string]func() Method{
	"sgd":     func() Method { return SGD().Done() },
	"rmsprop": func() Method { return RMSProp().Done() },
}

// ByName returns a default-configured update rule by name, or panics listing
// the valid names. Valid names are "sgd" and "rmsprop".
func ByName(name string) Method {
	builder, found := methodsByName[name]
	if !found {
		Panicf("unknown optimizer method %q, valid values are %v", name, maps.Keys(methodsByName))
	}
	return builder()
}
