package model

// Recommendation is one ranked crop for a (location, season) group.
type Recommendation struct {
	Rank            int     `json:"rank" yaml:"rank"`
	LocationID      int     `json:"location_id" yaml:"location_id"`
	LocationName    string  `json:"location_name" yaml:"location_name"`
	CropID          int     `json:"crop_id" yaml:"crop_id"`
	CropName        string  `json:"crop_name" yaml:"crop_name"`
	Probability     float64 `json:"probability" yaml:"probability"`
	Score           float64 `json:"score" yaml:"score"`
	ExpectedRevenue float64 `json:"expected_revenue" yaml:"expected_revenue"`
	Year            int     `json:"year" yaml:"year"`
	Season          string  `json:"season" yaml:"season"`
	SeasonLabel     string  `json:"season_label" yaml:"season_label"`

	// Serving-only enrichments from the engineered context row.
	AvgYield *float64 `json:"avg_yield,omitempty" yaml:"avg_yield,omitempty"`
	AvgPrice *float64 `json:"avg_price,omitempty" yaml:"avg_price,omitempty"`
}
