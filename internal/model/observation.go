// Package model defines the records that flow through the crop recommendation
// pipeline, from raw upstream rows to ranked recommendations.
package model

import "strings"

// Column names used by upstream rows and the classifier feature matrix.
const (
	ColLocationID      = "location_id"
	ColLocationName    = "location_name"
	ColCropID          = "crop_id"
	ColCropName        = "crop_name"
	ColYear            = "year"
	ColSeason          = "season"
	ColTotalYield      = "total_yield"
	ColAreaHa          = "area_ha"
	ColYieldPerHectare = "yield_per_hectare"
	ColAvgPricePerKg   = "avg_price_per_kg"
)

// NumericColumns are the nullable measurement columns every raw batch must carry.
var NumericColumns = []string{ColTotalYield, ColAreaHa, ColYieldPerHectare, ColAvgPricePerKg}

// RawColumns is the full upstream column set in canonical order.
var RawColumns = []string{
	ColLocationID, ColLocationName, ColCropID, ColCropName, ColYear, ColSeason,
	ColTotalYield, ColAreaHa, ColYieldPerHectare, ColAvgPricePerKg,
}

// FeatureColumns is the exact column order the classifier is trained on.
var FeatureColumns = []string{
	ColLocationID, ColSeason, ColCropID, ColYear,
	ColTotalYield, ColAreaHa, ColYieldPerHectare, ColAvgPricePerKg,
}

// CategoricalColumns are encoded by the classifier's own preprocessing stage.
var CategoricalColumns = []string{ColLocationID, ColSeason, ColCropID}

// Season values after normalization.
const (
	SeasonDry = "dry"
	SeasonWet = "wet"
)

// NormalizeSeason trims and lowercases free-text season values.
func NormalizeSeason(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidSeason reports whether s (already normalized) is a known season.
func ValidSeason(s string) bool {
	return s == SeasonDry || s == SeasonWet
}

// RawRow is one joined yield/price row as supplied by a data source.
// Numeric measurements are nil when the upstream value is NULL.
type RawRow struct {
	LocationID      int      `json:"location_id"`
	LocationName    string   `json:"location_name"`
	CropID          int      `json:"crop_id"`
	CropName        string   `json:"crop_name"`
	Year            int      `json:"year"`
	Season          string   `json:"season"`
	TotalYield      *float64 `json:"total_yield"`
	AreaHa          *float64 `json:"area_ha"`
	YieldPerHectare *float64 `json:"yield_per_hectare"`
	AvgPricePerKg   *float64 `json:"avg_price_per_kg"`
}

// RawBatch is a set of raw rows plus the columns the source actually provided,
// so a missing column can be told apart from a column of NULLs.
type RawBatch struct {
	Columns []string
	Rows    []RawRow
}

// NewRawBatch builds a batch carrying the full canonical column set.
func NewRawBatch(rows []RawRow) RawBatch {
	return RawBatch{Columns: append([]string(nil), RawColumns...), Rows: rows}
}

// HasColumn reports whether the batch declares the named column.
func (b RawBatch) HasColumn(name string) bool {
	for _, c := range b.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Float returns a pointer to v, for building RawRow literals.
func Float(v float64) *float64 { return &v }

// Observation is a cleaned record with derived metrics.
type Observation struct {
	LocationID      int     `json:"location_id"`
	LocationName    string  `json:"location_name"`
	CropID          int     `json:"crop_id"`
	CropName        string  `json:"crop_name"`
	Year            int     `json:"year"`
	Season          string  `json:"season"`
	TotalYield      float64 `json:"total_yield"`
	AreaHa          float64 `json:"area_ha"`
	YieldPerHectare float64 `json:"yield_per_hectare"`
	AvgPricePerKg   float64 `json:"avg_price_per_kg"`
	ExpectedRevenue float64 `json:"expected_revenue"`
}

// GroupKey identifies a labeling group.
type GroupKey struct {
	LocationID int
	Year       int
	Season     string
}

// Group returns the labeling group the observation belongs to.
func (o Observation) Group() GroupKey {
	return GroupKey{LocationID: o.LocationID, Year: o.Year, Season: o.Season}
}

// LabeledObservation is an observation with its supervised label.
type LabeledObservation struct {
	Observation
	IsTopCrop int `json:"is_top_crop"`
}

// ScoredObservation is an observation with a full-precision model probability.
type ScoredObservation struct {
	Observation
	Probability float64 `json:"probability"`
}

// FeatureRow is one classifier input row in FeatureColumns order.
// Categorical values are kept as strings so encoders can treat them uniformly.
type FeatureRow struct {
	LocationID      string
	Season          string
	CropID          string
	Year            float64
	TotalYield      float64
	AreaHa          float64
	YieldPerHectare float64
	AvgPricePerKg   float64
}

// Categorical returns the categorical value for the named column.
func (r FeatureRow) Categorical(col string) string {
	switch col {
	case ColLocationID:
		return r.LocationID
	case ColSeason:
		return r.Season
	case ColCropID:
		return r.CropID
	}
	return ""
}

// Numeric returns the numeric values in NumericFeatureColumns order.
func (r FeatureRow) Numeric() []float64 {
	return []float64{r.Year, r.TotalYield, r.AreaHa, r.YieldPerHectare, r.AvgPricePerKg}
}

// NumericFeatureColumns are the pass-through numeric feature columns.
var NumericFeatureColumns = []string{ColYear, ColTotalYield, ColAreaHa, ColYieldPerHectare, ColAvgPricePerKg}
