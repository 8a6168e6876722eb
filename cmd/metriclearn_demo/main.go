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

// metriclearn_demo trains a small embedding model on synthetic Gaussian
// clusters with a selectable metric-learning loss, showing the full
// mine-then-train flow: a forward pass to get embeddings, host-side mining
// of pairs/triplets, and a training step consuming the mined indices.
//
// Example:
//
//	go run ./cmd/metriclearn_demo -loss=triplet -strategy=semihard-neg -epochs=20
package main

import (
	"flag"
	"fmt"
	"math/rand"

	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/simplego"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/janpfeifer/must"
	"github.com/schollz/progressbar/v3"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"

	"github.com/gomlx/metriclearn"
)

var (
	flagLoss     = flag.String("loss", "triplet", "Loss to train with: contrastive, triplet, arcface, center, coco, softmax or kldiv.")
	flagTask     = flag.String("task", "mnist", "Task whose optimizer recipe to use: mnist, sts, ami, sst2 or snli.")
	flagDistance = flag.String("distance", "", "Training distance: euclidean or cosine. Empty selects the loss default.")
	flagStrategy = flag.String("strategy", "", "Triplet mining strategy: all, hardest-neg, hardest-pos-neg or semihard-neg.")
	flagMargin   = flag.Float64("margin", 0, "Margin; 0 selects the loss default.")
	flagClasses  = flag.Int("classes", 4, "Number of synthetic classes.")
	flagInputDim = flag.Int("input_dim", 16, "Dimension of the synthetic inputs.")
	flagEmbedDim = flag.Int("embed_dim", 8, "Dimension of the learned embeddings.")
	flagBatch    = flag.Int("batch", 32, "Batch size.")
	flagSteps    = flag.Int("steps", 50, "Training steps per epoch.")
	flagEpochs   = flag.Int("epochs", 10, "Training epochs.")
	flagLR       = flag.Float64("lr", 0.01, "Learning rate of the model parameters. The loss-module parameters train at 10x.")
	flagSeed     = flag.Int64("seed", 42, "Seed of the synthetic data generator.")
)

// clusters generates batches from fixed per-class Gaussian clusters.
type clusters struct {
	rng     *rand.Rand
	centers *mat.Dense
	dim     int
}

func newClusters(rng *rand.Rand, numClasses, dim int) *clusters {
	centers := mat.NewDense(numClasses, dim, nil)
	for c := 0; c < numClasses; c++ {
		for d := 0; d < dim; d++ {
			centers.Set(c, d, rng.NormFloat64()*3)
		}
	}
	return &clusters{rng: rng, centers: centers, dim: dim}
}

// batch samples n labeled points, returning the flat input data and labels.
func (cl *clusters) batch(n int) ([]float64, []int) {
	numClasses, _ := cl.centers.Dims()
	inputs := make([]float64, 0, n*cl.dim)
	labels := make([]int, n)
	for i := 0; i < n; i++ {
		labels[i] = cl.rng.Intn(numClasses)
		for d := 0; d < cl.dim; d++ {
			inputs = append(inputs, cl.centers.At(labels[i], d)+cl.rng.NormFloat64())
		}
	}
	return inputs, labels
}

// model maps inputs to embeddings, with its variables under ModelScope.
func model(ctx *context.Context, inputs *Node) *Node {
	ctx = ctx.In(metriclearn.ModelScope)
	hidden := Tanh(layers.DenseWithBias(ctx.In("hidden"), inputs, 32))
	return layers.DenseWithBias(ctx.In("output"), hidden, *flagEmbedDim)
}

func main() {
	flag.Parse()
	backend := backends.MustNew()
	klog.Infof("Backend: %s", backend.Description())

	cfg := metriclearn.NewLossConfig(*flagLoss, metriclearn.Options{
		NumClasses: *flagClasses,
		Margin:     *flagMargin,
		Distance:   *flagDistance,
		Strategy:   *flagStrategy,
	})
	klog.Infof("Loss %s (%s), task %s", cfg.Name, cfg.Params, *flagTask)

	ctx := context.New()
	opt := cfg.Optimizer(*flagTask, *flagLR, 10*(*flagLR))

	forward := context.NewExec(backend, ctx, func(ctx *context.Context, inputs *Node) *Node {
		return model(ctx, inputs)
	})

	// One train exec per mined-input arity; graphs are rebuilt when the
	// mined index counts change, so the cache is uncapped.
	trainPlain := context.NewExec(backend, ctx, func(ctx *context.Context, inputs, labels *Node) *Node {
		loss := cfg.Loss(ctx, model(ctx, inputs), labels)
		opt.UpdateGraph(ctx, inputs.Graph(), loss)
		return loss
	})
	trainMined := context.NewExec(backend, ctx, func(ctx *context.Context, inputs, labels, mined0, mined1, mined2 *Node) *Node {
		loss := cfg.Loss(ctx, model(ctx, inputs), labels, mined0, mined1, mined2)
		opt.UpdateGraph(ctx, inputs.Graph(), loss)
		return loss
	})
	trainMined.SetMaxCache(-1)

	rng := rand.New(rand.NewSource(*flagSeed))
	data := newClusters(rng, *flagClasses, *flagInputDim)

	for epoch := 0; epoch < *flagEpochs; epoch++ {
		bar := progressbar.Default(int64(*flagSteps), fmt.Sprintf("epoch %d", epoch))
		var lossSum float64
		var steps int
		for step := 0; step < *flagSteps; step++ {
			inputs, labels := data.batch(*flagBatch)
			inputsT := tensors.FromFlatDataAndDimensions(inputs, *flagBatch, *flagInputDim)
			labelsT := labelsTensor(cfg, labels)

			var outputs []*tensors.Tensor
			if cfg.Mines() {
				embeddingsT := forward.Call(inputsT)[0]
				embeddings := embeddingsMatrix(embeddingsT, *flagBatch, *flagEmbedDim)
				mined, ok := cfg.Mine(embeddings, labels)
				if !ok {
					// No valid pair/triplet in this batch: skip it.
					must.M(bar.Add(1))
					continue
				}
				outputs = trainMined.Call(inputsT, labelsT, mined[0], mined[1], mined[2])
			} else {
				outputs = trainPlain.Call(inputsT, labelsT)
			}
			lossSum += tensors.ToScalar[float64](outputs[0])
			steps++
			must.M(bar.Add(1))
		}
		must.M(bar.Close())

		meanLoss := lossSum / float64(max(steps, 1))
		// Plateau schedules watch a larger-is-better metric.
		opt.OnEpochEnd(ctx, -meanLoss)
		klog.Infof("epoch %d: mean loss %.5f", epoch, meanLoss)
	}
}

// labelsTensor converts host labels to the tensor the loss consumes: class
// ids for most losses, a one-hot target distribution for "kldiv".
func labelsTensor(cfg *metriclearn.LossConfig, labels []int) *tensors.Tensor {
	if cfg.Name != "kldiv" {
		flat := make([]int32, len(labels))
		for i, label := range labels {
			flat[i] = int32(label)
		}
		return tensors.FromFlatDataAndDimensions(flat, len(labels))
	}
	targets := make([]float64, len(labels)**flagClasses)
	for i, label := range labels {
		targets[i**flagClasses+label] = 1
	}
	return tensors.FromFlatDataAndDimensions(targets, len(labels), *flagClasses)
}

// embeddingsMatrix copies an embeddings tensor into a gonum matrix for
// host-side mining.
func embeddingsMatrix(t *tensors.Tensor, n, dim int) *mat.Dense {
	return mat.NewDense(n, dim, tensors.CopyFlatData[float64](t))
}
