// Package features cleans raw yield/price rows and derives the per-record
// metrics the rest of the pipeline depends on.
package features

import (
	"sort"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crop-advisor/internal/model"
)

// column is a working copy of one nullable numeric column.
type column []*float64

// Engineer converts a raw batch into observations. The batch is not modified.
//
// Steps run in a fixed order so derived values never read a dirty upstream value:
// whole-null input columns become 0, missing yield per hectare is rebuilt from
// total_yield/area_ha, remaining gaps take the column median, zero areas take the
// area median, and expected revenue is computed last.
func Engineer(batch model.RawBatch) ([]model.Observation, error) {
	if len(batch.Rows) == 0 {
		return nil, eris.Wrap(model.ErrEmptyInput, "features: no rows to engineer")
	}
	for _, col := range model.NumericColumns {
		if !batch.HasColumn(col) {
			return nil, eris.Wrapf(model.ErrSchema, "features: expected column %q in raw batch", col)
		}
	}

	n := len(batch.Rows)
	totalYield := make(column, n)
	area := make(column, n)
	yph := make(column, n)
	price := make(column, n)
	for i, r := range batch.Rows {
		totalYield[i] = clone(r.TotalYield)
		area[i] = clone(r.AreaHa)
		yph[i] = clone(r.YieldPerHectare)
		price[i] = clone(r.AvgPricePerKg)
	}

	cols := []column{totalYield, area, yph, price}

	// yield per hectare is rebuilt first; if it is still all null afterwards the
	// median fill below leaves it at 0.
	for _, c := range []column{totalYield, area, price} {
		if c.allNull() {
			c.fill(0)
		}
	}

	for i := range yph {
		if yph[i] != nil || totalYield[i] == nil || area[i] == nil || *area[i] == 0 {
			continue
		}
		v := *totalYield[i] / *area[i]
		yph[i] = &v
	}

	for _, c := range cols {
		med, ok := median(c.values())
		if !ok {
			med = 0
		}
		c.fill(med)
	}

	areaFill := positiveAreaFill(area.values())
	for i := range area {
		if *area[i] == 0 {
			v := areaFill
			area[i] = &v
		}
	}

	out := make([]model.Observation, n)
	for i, r := range batch.Rows {
		o := model.Observation{
			LocationID:      r.LocationID,
			LocationName:    r.LocationName,
			CropID:          r.CropID,
			CropName:        r.CropName,
			Year:            r.Year,
			Season:          model.NormalizeSeason(r.Season),
			TotalYield:      *totalYield[i],
			AreaHa:          *area[i],
			YieldPerHectare: *yph[i],
			AvgPricePerKg:   *price[i],
		}
		o.ExpectedRevenue = ExpectedRevenue(o.YieldPerHectare, o.AvgPricePerKg)
		out[i] = o
	}
	return out, nil
}

// ExpectedRevenue is the per-hectare revenue proxy used for labeling and ranking.
func ExpectedRevenue(yieldPerHectare, pricePerKg float64) float64 {
	return yieldPerHectare * pricePerKg
}

// Matrix projects observations onto the classifier feature columns.
func Matrix(obs []model.Observation) []model.FeatureRow {
	rows := make([]model.FeatureRow, len(obs))
	for i, o := range obs {
		rows[i] = Row(o)
	}
	return rows
}

// Row projects a single observation onto the classifier feature columns.
func Row(o model.Observation) model.FeatureRow {
	return model.FeatureRow{
		LocationID:      strconv.Itoa(o.LocationID),
		Season:          o.Season,
		CropID:          strconv.Itoa(o.CropID),
		Year:            float64(o.Year),
		TotalYield:      o.TotalYield,
		AreaHa:          o.AreaHa,
		YieldPerHectare: o.YieldPerHectare,
		AvgPricePerKg:   o.AvgPricePerKg,
	}
}

func (c column) allNull() bool {
	for _, v := range c {
		if v != nil {
			return false
		}
	}
	return true
}

// fill replaces nil entries with v.
func (c column) fill(v float64) {
	for i := range c {
		if c[i] == nil {
			x := v
			c[i] = &x
		}
	}
}

func (c column) values() []float64 {
	vals := make([]float64, 0, len(c))
	for _, v := range c {
		if v != nil {
			vals = append(vals, *v)
		}
	}
	return vals
}

// positiveAreaFill picks the replacement for zero areas: the column median, or
// the median of the positive areas when the column median is itself zero, or 1
// when no positive area exists at all.
func positiveAreaFill(areas []float64) float64 {
	if med, ok := median(areas); ok && med > 0 {
		return med
	}
	var positive []float64
	for _, a := range areas {
		if a > 0 {
			positive = append(positive, a)
		}
	}
	if med, ok := median(positive); ok {
		return med
	}
	return 1
}

// median returns the median of vals; ok is false for an empty slice.
func median(vals []float64) (float64, bool) {
	if len(vals) == 0 {
		return 0, false
	}
	s := append([]float64(nil), vals...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid], true
	}
	return (s[mid-1] + s[mid]) / 2, true
}

func clone(v *float64) *float64 {
	if v == nil {
		return nil
	}
	x := *v
	return &x
}
