package dataset

import (
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/features"
)

// DefaultSampleRows is the size of the generated batch input.
const DefaultSampleRows = 100

// SampleRows generates n synthetic rows over columns: uniform calendar
// values, rolling standard deviations drawn from N(3, 1.5) and every other
// concentration feature from N(12, 5), all clipped at zero.
func SampleRows(n int, seed uint64, columns []string) Table {
	rng := rand.New(rand.NewPCG(seed, 0))
	cols := append([]string(nil), columns...)
	t := Table{Columns: cols}

	for range n {
		values := make(map[string]float64, len(cols))
		cells := make([]string, len(cols))
		for i, c := range cols {
			values[c] = sampleValue(rng, c)
			cells[i] = strconv.FormatFloat(values[c], 'f', -1, 64)
		}
		t.Cells = append(t.Cells, cells)
		t.Values = append(t.Values, values)
		t.Invalid = append(t.Invalid, nil)
	}
	return t
}

func sampleValue(rng *rand.Rand, column string) float64 {
	switch {
	case column == features.Hour:
		return float64(rng.IntN(24))
	case column == features.DayOfWeek:
		return float64(rng.IntN(7))
	case column == features.DayOfMonth:
		return float64(1 + rng.IntN(28))
	case column == features.Month:
		return float64(1 + rng.IntN(12))
	case strings.HasPrefix(column, "rolling_std_"):
		return clip0(rng.NormFloat64()*1.5 + 3)
	default:
		return clip0(rng.NormFloat64()*5 + 12)
	}
}
