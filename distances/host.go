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

package distances

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// crossDims validates that x and y share the embedding dimension and returns
// the row counts and the shared dimension.
func crossDims(x, y mat.Matrix) (n, dim, m int, err error) {
	var yDim int
	n, dim = x.Dims()
	m, yDim = y.Dims()
	if dim != yDim {
		err = errors.Errorf("embedding dimensions differ: left batch is %dx%d, right batch is %dx%d", n, dim, m, yDim)
	}
	return
}

// rowNorms returns the L2 norm of each row, substituting 1 for zero-length
// rows so the subsequent division is well-defined.
func rowNorms(x mat.Matrix, rows, dim int) []float64 {
	norms := make([]float64, rows)
	for i := 0; i < rows; i++ {
		var sum float64
		for k := 0; k < dim; k++ {
			v := x.At(i, k)
			sum += v * v
		}
		if sum == 0 {
			norms[i] = 1
		} else {
			norms[i] = math.Sqrt(sum)
		}
	}
	return norms
}
