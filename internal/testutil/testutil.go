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

// Package testutil holds test utilities shared by the package tests: a
// cached pure-Go backend and a helper to run and check graph functions.
package testutil

import (
	"fmt"
	"sync"
	"testing"

	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/simplego"
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/stretchr/testify/require"
)

var (
	backendOnce   sync.Once
	cachedBackend backends.Backend
)

// Backend returns a cached backend for tests, defaulting to the pure-Go
// "go" backend -- it can be overwritten by the GOMLX_BACKEND environment
// variable.
func Backend() backends.Backend {
	backends.DefaultConfig = "go"
	backendOnce.Do(func() {
		cachedBackend = backends.MustNew()
		fmt.Printf("Backend: %s\n", cachedBackend.Description())
	})
	return cachedBackend
}

// GraphFn builds its own inputs and returns the outputs to check.
type GraphFn func(g *graph.Graph) []*graph.Node

// RunGraphFn executes graphFn and compares its outputs to want within delta,
// reporting mismatches in t. delta <= 0 requires exact equality.
func RunGraphFn(t *testing.T, testName string, graphFn GraphFn, want []any, delta float64) {
	t.Run(testName, func(t *testing.T) {
		exec := graph.NewExec(Backend(), (func(*graph.Graph) []*graph.Node)(graphFn))
		var outputs []*tensors.Tensor
		require.NotPanicsf(t, func() { outputs = exec.Call() }, "%s: failed to execute graph", testName)
		require.Lenf(t, outputs, len(want), "%s: got %d outputs, want %d", testName, len(outputs), len(want))
		for ii, output := range outputs {
			wantTensor := tensors.FromAnyValue(want[ii])
			if delta <= 0 {
				require.Truef(t, wantTensor.Equal(output),
					"%s: output #%d doesn't match: got %s, want %s", testName, ii, output, wantTensor)
				continue
			}
			require.Truef(t, wantTensor.InDelta(output, delta),
				"%s: output #%d doesn't match within delta %g: got %s, want %s",
				testName, ii, delta, output, wantTensor)
		}
	})
}
