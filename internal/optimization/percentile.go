package optimization

import (
	"errors"
	"sort"

	"github.com/atlas-desktop/excursion-lab/pkg/utils"
)

var errEmptySample = errors.New("percentile of empty sample")

// Percentiles returns the requested percentiles of values using linear
// interpolation between closest ranks. values is not modified.
func Percentiles(values []float64, ps []float64) ([]float64, error) {
	if len(values) == 0 {
		return nil, errEmptySample
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	out := make([]float64, len(ps))
	for i, p := range ps {
		out[i] = utils.Percentile(sorted, p)
	}
	return out, nil
}
