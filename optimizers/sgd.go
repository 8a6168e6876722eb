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

import (
	"fmt"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/initializers"
)

// SGDDefaultScope is the default scope name for the momentum buffers used by
// the SGD method.
const SGDDefaultScope = "SGDOptimizer"

// SGD creates a configuration for a stochastic-gradient-descent update rule
// with optional classical momentum and L2 weight decay:
//
//	grad = grad + weightDecay * value
//	buf  = momentum * buf + grad
//	value = value - learningRate * buf
//
// Call Done when finished configuring to obtain the Method.
func SGD() *SGDConfig {
	return &SGDConfig{scopeName: SGDDefaultScope}
}

// SGDConfig holds the configuration of an SGD update rule. Create it with
// SGD(), and once configured call Done.
type SGDConfig struct {
	scopeName   string
	momentum    float64
	weightDecay float64
}

// Scope defines the top-level scope for the momentum buffers. It must be
// changed when two groups of the same Optimizer both use SGD with momentum,
// so their buffers don't collide.
func (c *SGDConfig) Scope(name string) *SGDConfig {
	c.scopeName = name
	return c
}

// Momentum sets the classical momentum factor. 0 (the default) disables the
// momentum buffer entirely.
func (c *SGDConfig) Momentum(momentum float64) *SGDConfig {
	c.momentum = momentum
	return c
}

// WeightDecay adds an L2 penalty gradient of weightDecay times the variable
// value. The default 0 disables it.
func (c *SGDConfig) WeightDecay(weightDecay float64) *SGDConfig {
	c.weightDecay = weightDecay
	return c
}

// Done finishes the configuration and returns the Method.
func (c *SGDConfig) Done() Method {
	return &sgd{config: c}
}

type sgd struct {
	config *SGDConfig
}

// Name implements Method.
func (o *sgd) Name() string { return "sgd" }

// StateScope implements Method.
func (o *sgd) StateScope() string { return o.config.scopeName }

// Momentum the rule was configured with, 0 when disabled.
func (o *sgd) Momentum() float64 { return o.config.momentum }

// WeightDecay the rule was configured with, 0 when disabled.
func (o *sgd) WeightDecay() float64 { return o.config.weightDecay }

// ApplyGraph implements Method.
func (o *sgd) ApplyGraph(ctx *context.Context, v *context.Variable, grad, learningRate *Node) {
	g := grad.Graph()
	value := v.ValueGraph(g)
	if o.config.weightDecay > 0 {
		grad = Add(grad, MulScalar(value, o.config.weightDecay))
	}
	step := grad
	if o.config.momentum > 0 {
		bufVar := stateVariable(ctx, o.config.scopeName, v, "momentum")
		buf := Add(MulScalar(bufVar.ValueGraph(g), o.config.momentum), grad)
		bufVar.SetValueGraph(buf)
		step = buf
	}
	v.SetValueGraph(Sub(value, Mul(learningRate, step)))
}

// stateVariable returns the zero-initialized, non-trainable state variable of
// the given suffix paired to a trainable variable, stored under scopeName
// with the trainable variable's own scope appended, mirroring how the gomlx
// Adam optimizer lays out its moments.
func stateVariable(ctx *context.Context, scopeName string, trainable *context.Variable, suffix string) *context.Variable {
	scopePath := fmt.Sprintf("%s%s%s", context.ScopeSeparator, scopeName, trainable.Scope())
	name := fmt.Sprintf("%s_%s", trainable.Name(), suffix)
	return ctx.InAbsPath(scopePath).
		WithInitializer(initializers.Zero).
		VariableWithShape(name, trainable.Shape()).
		SetTrainable(false)
}
