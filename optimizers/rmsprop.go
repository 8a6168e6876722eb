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
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
)

const (
	// RMSPropDefaultScope is the default scope name for the RMSProp state
	// variables.
	RMSPropDefaultScope = "RMSPropOptimizer"

	// RMSPropDefaultRho is the default decay of the squared-gradient moving
	// average.
	RMSPropDefaultRho = 0.99

	// RMSPropDefaultEpsilon is the default denominator stabilizer.
	RMSPropDefaultEpsilon = 1e-8
)

// RMSProp creates a configuration for the RMSProp update rule, which divides
// each gradient by the root of a running average of its square:
//
//	avg  = rho * avg + (1-rho) * grad^2
//	buf  = momentum * buf + grad / (sqrt(avg) + epsilon)
//	value = value - learningRate * buf
//
// With momentum 0 (the default) the buffer is skipped and the normalized
// gradient is applied directly. Call Done when finished configuring.
//
// Reference: [Tieleman & Hinton, Lecture 6.5 - RMSProp, COURSERA Neural
// Networks for Machine Learning, 2012].
func RMSProp() *RMSPropConfig {
	return &RMSPropConfig{
		scopeName: RMSPropDefaultScope,
		rho:       RMSPropDefaultRho,
		epsilon:   RMSPropDefaultEpsilon,
	}
}

// RMSPropConfig holds the configuration of an RMSProp update rule. Create it
// with RMSProp(), and once configured call Done.
type RMSPropConfig struct {
	scopeName string
	rho       float64
	epsilon   float64
	momentum  float64
}

// Scope defines the top-level scope for the state variables. It must be
// changed when two groups of the same Optimizer both use RMSProp, so their
// state doesn't collide.
func (c *RMSPropConfig) Scope(name string) *RMSPropConfig {
	c.scopeName = name
	return c
}

// Rho sets the decay of the squared-gradient moving average. Defaults to
// RMSPropDefaultRho.
func (c *RMSPropConfig) Rho(rho float64) *RMSPropConfig {
	c.rho = rho
	return c
}

// Epsilon sets the denominator stabilizer. Defaults to RMSPropDefaultEpsilon.
func (c *RMSPropConfig) Epsilon(epsilon float64) *RMSPropConfig {
	c.epsilon = epsilon
	return c
}

// Momentum sets the classical momentum applied on top of the normalized
// gradient. 0 (the default) disables it.
func (c *RMSPropConfig) Momentum(momentum float64) *RMSPropConfig {
	c.momentum = momentum
	return c
}

// Done finishes the configuration and returns the Method.
func (c *RMSPropConfig) Done() Method {
	return &rmsProp{config: c}
}

type rmsProp struct {
	config *RMSPropConfig
}

// Name implements Method.
func (o *rmsProp) Name() string { return "rmsprop" }

// StateScope implements Method.
func (o *rmsProp) StateScope() string { return o.config.scopeName }

// Momentum the rule was configured with, 0 when disabled.
func (o *rmsProp) Momentum() float64 { return o.config.momentum }

// Rho the rule was configured with.
func (o *rmsProp) Rho() float64 { return o.config.rho }

// Epsilon the rule was configured with.
func (o *rmsProp) Epsilon() float64 { return o.config.epsilon }

// ApplyGraph implements Method.
func (o *rmsProp) ApplyGraph(ctx *context.Context, v *context.Variable, grad, learningRate *Node) {
	g := grad.Graph()
	avgVar := stateVariable(ctx, o.config.scopeName, v, "square_avg")
	avg := Add(
		MulScalar(avgVar.ValueGraph(g), o.config.rho),
		MulScalar(Square(grad), 1.0-o.config.rho))
	avgVar.SetValueGraph(avg)

	step := Div(grad, AddScalar(Sqrt(avg), o.config.epsilon))
	if o.config.momentum > 0 {
		bufVar := stateVariable(ctx, o.config.scopeName, v, "momentum")
		buf := Add(MulScalar(bufVar.ValueGraph(g), o.config.momentum), step)
		bufVar.SetValueGraph(buf)
		step = buf
	}
	v.SetValueGraph(Sub(v.ValueGraph(g), Mul(learningRate, step)))
}
