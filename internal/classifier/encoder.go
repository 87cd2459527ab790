package classifier

import (
	"math"
	"sort"

	"github.com/sells-group/crop-advisor/internal/model"
)

// OneHotEncoder expands categorical columns into indicator blocks. A value not
// seen during Fit encodes as an all-zero block instead of failing.
type OneHotEncoder struct {
	Columns    []string            `json:"columns"`
	Categories map[string][]string `json:"categories"`

	index map[string]map[string]int
}

// FitOneHotEncoder learns the sorted category list of each column.
func FitOneHotEncoder(columns []string, X []model.FeatureRow) *OneHotEncoder {
	e := &OneHotEncoder{Columns: append([]string(nil), columns...), Categories: make(map[string][]string, len(columns))}
	for _, col := range columns {
		seen := map[string]bool{}
		for _, row := range X {
			seen[row.Categorical(col)] = true
		}
		cats := make([]string, 0, len(seen))
		for c := range seen {
			cats = append(cats, c)
		}
		sort.Strings(cats)
		e.Categories[col] = cats
	}
	e.buildIndex()
	return e
}

// Width is the number of indicator columns produced.
func (e *OneHotEncoder) Width() int {
	w := 0
	for _, col := range e.Columns {
		w += len(e.Categories[col])
	}
	return w
}

// Encode appends the indicator block for row to dst. Encode never mutates the
// encoder, so a fitted encoder is safe for concurrent use.
func (e *OneHotEncoder) Encode(dst []float64, row model.FeatureRow) []float64 {
	for _, col := range e.Columns {
		block := make([]float64, len(e.Categories[col]))
		if i, ok := e.lookup(col, row.Categorical(col)); ok {
			block[i] = 1
		}
		dst = append(dst, block...)
	}
	return dst
}

func (e *OneHotEncoder) lookup(col, value string) (int, bool) {
	if e.index != nil {
		i, ok := e.index[col][value]
		return i, ok
	}
	for i, c := range e.Categories[col] {
		if c == value {
			return i, true
		}
	}
	return 0, false
}

func (e *OneHotEncoder) buildIndex() {
	e.index = make(map[string]map[string]int, len(e.Columns))
	for _, col := range e.Columns {
		m := make(map[string]int, len(e.Categories[col]))
		for i, c := range e.Categories[col] {
			m[c] = i
		}
		e.index[col] = m
	}
}

// StandardScaler centers numeric columns on the training mean and scales them
// by the training standard deviation. Constant columns are only centered.
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// FitStandardScaler learns per-column mean and population standard deviation.
func FitStandardScaler(X []model.FeatureRow) *StandardScaler {
	width := len(model.NumericFeatureColumns)
	s := &StandardScaler{Mean: make([]float64, width), Scale: make([]float64, width)}
	if len(X) == 0 {
		for j := range s.Scale {
			s.Scale[j] = 1
		}
		return s
	}
	n := float64(len(X))
	for _, row := range X {
		for j, v := range row.Numeric() {
			s.Mean[j] += v / n
		}
	}
	for _, row := range X {
		for j, v := range row.Numeric() {
			d := v - s.Mean[j]
			s.Scale[j] += d * d / n
		}
	}
	for j := range s.Scale {
		s.Scale[j] = math.Sqrt(s.Scale[j])
		if s.Scale[j] == 0 {
			s.Scale[j] = 1
		}
	}
	return s
}

// Transform appends the scaled numeric columns of row to dst.
func (s *StandardScaler) Transform(dst []float64, row model.FeatureRow) []float64 {
	for j, v := range row.Numeric() {
		dst = append(dst, (v-s.Mean[j])/s.Scale[j])
	}
	return dst
}
