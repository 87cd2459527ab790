// Package source supplies raw yield/price rows to training and serving,
// either from the upstream Postgres database or from exported files.
package source

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crop-advisor/internal/model"
)

// MinTrainingYears is the smallest year window training accepts.
const MinTrainingYears = 2

// TrainingSource supplies the historical rows a model is trained on.
type TrainingSource interface {
	// YearThreshold returns the earliest year inside the newest minYears
	// distinct approved years, or the earliest year overall when fewer exist.
	YearThreshold(ctx context.Context, minYears int) (int, error)
	// TrainingRows returns every approved row with year >= minYear.
	TrainingRows(ctx context.Context, minYear int) (model.RawBatch, error)
}

// ContextSource supplies the candidate rows a recommendation is scored on.
type ContextSource interface {
	// TargetYear returns the latest approved year <= year for the location
	// and season, falling back to the latest year overall. ok is false when
	// the location/season has no approved data at all.
	TargetYear(ctx context.Context, locationID int, season string, year int) (target int, ok bool, err error)
	// ContextRows returns one row per crop for the location, season, and year.
	ContextRows(ctx context.Context, locationID int, season string, year int) (model.RawBatch, error)
}

// Threshold picks the year window boundary from distinct years.
func Threshold(years []int, minYears int) (int, error) {
	if len(years) == 0 {
		return 0, eris.Wrap(model.ErrInsufficientData, "source: no approved yield records found")
	}
	if minYears < 1 {
		minYears = 1
	}
	desc := append([]int(nil), years...)
	sort.Sort(sort.Reverse(sort.IntSlice(desc)))
	if len(desc) >= minYears {
		return desc[minYears-1], nil
	}
	return desc[len(desc)-1], nil
}

// Memory serves an in-memory batch, typically one read from a file export.
// Every row is treated as approved.
type Memory struct {
	batch model.RawBatch
}

// NewMemory wraps batch. The batch is not copied and must not be mutated.
func NewMemory(batch model.RawBatch) *Memory {
	return &Memory{batch: batch}
}

// YearThreshold implements TrainingSource.
func (m *Memory) YearThreshold(_ context.Context, minYears int) (int, error) {
	seen := map[int]bool{}
	var years []int
	for _, r := range m.batch.Rows {
		if !seen[r.Year] {
			seen[r.Year] = true
			years = append(years, r.Year)
		}
	}
	return Threshold(years, minYears)
}

// TrainingRows implements TrainingSource.
func (m *Memory) TrainingRows(_ context.Context, minYear int) (model.RawBatch, error) {
	out := model.RawBatch{Columns: m.batch.Columns}
	for _, r := range m.batch.Rows {
		if r.Year >= minYear {
			out.Rows = append(out.Rows, r)
		}
	}
	sort.SliceStable(out.Rows, func(i, j int) bool {
		a, b := out.Rows[i], out.Rows[j]
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		if a.LocationID != b.LocationID {
			return a.LocationID < b.LocationID
		}
		return a.CropID < b.CropID
	})
	return out, nil
}

// TargetYear implements ContextSource.
func (m *Memory) TargetYear(_ context.Context, locationID int, season string, year int) (int, bool, error) {
	season = model.NormalizeSeason(season)
	best, latest := 0, 0
	for _, r := range m.batch.Rows {
		if r.LocationID != locationID || model.NormalizeSeason(r.Season) != season {
			continue
		}
		if r.Year > latest {
			latest = r.Year
		}
		if r.Year <= year && r.Year > best {
			best = r.Year
		}
	}
	switch {
	case best > 0:
		return best, true, nil
	case latest > 0:
		return latest, true, nil
	}
	return 0, false, nil
}

// ContextRows implements ContextSource. When a crop appears more than once
// the first row wins.
func (m *Memory) ContextRows(_ context.Context, locationID int, season string, year int) (model.RawBatch, error) {
	season = model.NormalizeSeason(season)
	out := model.RawBatch{Columns: m.batch.Columns}
	seen := map[int]bool{}
	for _, r := range m.batch.Rows {
		if r.LocationID != locationID || r.Year != year || model.NormalizeSeason(r.Season) != season {
			continue
		}
		if seen[r.CropID] {
			continue
		}
		seen[r.CropID] = true
		out.Rows = append(out.Rows, r)
	}
	sort.SliceStable(out.Rows, func(i, j int) bool { return out.Rows[i].CropID < out.Rows[j].CropID })
	return out, nil
}
