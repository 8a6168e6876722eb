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

// Package metriclearn trains embedding models under metric-learning
// objectives on top of GoMLX: margin-based losses (contrastive, triplet,
// ArcFace, center, CoCo), online pair/triplet mining, and the per-task
// optimizer assembly that trains feature-extractor and loss-module
// parameters with different learning rates.
//
// The entry point is NewLossConfig, which bundles a loss formula with the
// mining it needs, the distance used at evaluation time and its optimizer
// assembly. A training step looks like:
//
//	cfg := metriclearn.NewLossConfig("triplet", metriclearn.Options{
//		Margin:   1.0,
//		Strategy: "semihard-neg",
//	})
//	opt := cfg.Optimizer("mnist", 0.01, 0.1)
//
//	// Per batch: run the feature extractor, mine on the host, then build
//	// (or reuse) the training graph with the mined indices as inputs.
//	mined, ok := cfg.Mine(embeddings, labels)
//	if !ok {
//		continue // No valid pair/triplet: the batch contributes no gradient.
//	}
//
// and inside the training graph:
//
//	loss := cfg.Loss(ctx, embeddings, labels, minedNodes...)
//	opt.UpdateGraph(ctx, g, loss)
//
// Sub-packages hold the pieces: distances (Euclidean and Cosine metrics, in
// graph and host form), mining (the four triplet strategies and the pair
// miners), losses (the loss formulas as graph builders) and optimizers (SGD,
// RMSProp, schedules and named parameter groups).
//
// The feature extractor must build its variables under the ModelScope
// sub-scope of the context; LossConfig.Loss puts the loss-module parameters
// under LossScope. The optimizer routes learning rates by these scopes.
package metriclearn
