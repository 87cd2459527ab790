package source

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crop-advisor/internal/db"
	"github.com/sells-group/crop-advisor/internal/model"
	"github.com/sells-group/crop-advisor/internal/resilience"
)

// Upstream tables (owned by the data-entry application):
//
//	locations(location_id, name)
//	crops(crop_id, crop_name)
//	yields(location_id, crop_id, year, season, total_yield,
//	       total_area_planted_ha, yield_per_hectare, status)
//	crop_prices(location_id, crop_id, year, month, price_per_kg, status)
//
// Only rows with status = 'approved' are read. Price months 6-11 count as
// the wet season, everything else as dry.

const distinctYearsSQL = `SELECT DISTINCT year FROM yields WHERE status = 'approved' ORDER BY year DESC`

const trainingRowsSQL = `
WITH yield_data AS (
	SELECT
		y.location_id,
		COALESCE(l.name, CONCAT('Location ', y.location_id)) AS location_name,
		y.crop_id,
		COALESCE(c.crop_name, CONCAT('Crop ', y.crop_id)) AS crop_name,
		y.year,
		LOWER(y.season) AS season,
		y.total_yield::float8 AS total_yield,
		y.total_area_planted_ha::float8 AS total_area_planted_ha,
		y.yield_per_hectare::float8 AS yield_per_hectare
	FROM yields AS y
	LEFT JOIN locations AS l USING (location_id)
	LEFT JOIN crops AS c USING (crop_id)
	WHERE y.status = 'approved' AND y.year >= $1
), price_data AS (
	SELECT
		p.location_id,
		p.crop_id,
		p.year,
		CASE WHEN p.month BETWEEN 6 AND 11 THEN 'wet' ELSE 'dry' END AS season,
		AVG(p.price_per_kg)::float8 AS avg_price_per_kg
	FROM crop_prices AS p
	WHERE p.status = 'approved' AND p.year >= $1
	GROUP BY 1, 2, 3, 4
)
SELECT
	y.location_id, y.location_name, y.crop_id, y.crop_name, y.year, y.season,
	y.total_yield, y.total_area_planted_ha, y.yield_per_hectare,
	COALESCE(p.avg_price_per_kg, 0) AS avg_price_per_kg
FROM yield_data AS y
LEFT JOIN price_data AS p
	ON p.location_id = y.location_id
	AND p.crop_id = y.crop_id
	AND p.year = y.year
	AND p.season = y.season
ORDER BY y.year, y.location_id, y.crop_id`

const targetYearSQL = `SELECT MAX(year) FROM yields
WHERE status = 'approved' AND location_id = $1 AND LOWER(season) = $2 AND year <= $3`

const latestYearSQL = `SELECT MAX(year) FROM yields
WHERE status = 'approved' AND location_id = $1 AND LOWER(season) = $2`

const contextRowsSQL = `
WITH price_lookup AS (
	SELECT p.location_id, p.crop_id, p.year, AVG(p.price_per_kg)::float8 AS avg_price_per_kg
	FROM crop_prices AS p
	WHERE p.status = 'approved'
		AND p.location_id = $1
		AND (CASE WHEN p.month BETWEEN 6 AND 11 THEN 'wet' ELSE 'dry' END) = $2
	GROUP BY p.location_id, p.crop_id, p.year
), ranked AS (
	SELECT
		y.location_id,
		COALESCE(l.name, CONCAT('Location ', y.location_id)) AS location_name,
		y.crop_id,
		COALESCE(c.crop_name, CONCAT('Crop ', y.crop_id)) AS crop_name,
		y.year,
		LOWER(y.season) AS season,
		y.total_yield::float8 AS total_yield,
		y.total_area_planted_ha::float8 AS total_area_planted_ha,
		y.yield_per_hectare::float8 AS yield_per_hectare,
		COALESCE(pl.avg_price_per_kg, 0) AS avg_price_per_kg,
		ROW_NUMBER() OVER (PARTITION BY y.crop_id ORDER BY y.year DESC) AS row_rank
	FROM yields AS y
	LEFT JOIN locations AS l USING (location_id)
	LEFT JOIN crops AS c USING (crop_id)
	LEFT JOIN price_lookup AS pl
		ON pl.location_id = y.location_id AND pl.crop_id = y.crop_id AND pl.year = y.year
	WHERE y.status = 'approved' AND y.location_id = $1 AND LOWER(y.season) = $2 AND y.year = $3
)
SELECT location_id, location_name, crop_id, crop_name, year, season,
	total_yield, total_area_planted_ha, yield_per_hectare, avg_price_per_kg
FROM ranked
WHERE row_rank = 1
ORDER BY crop_id`

// Postgres reads approved rows from the upstream database. Every query is
// retried on transient connection faults.
type Postgres struct {
	pool  db.Pool
	retry resilience.RetryConfig
	log   *zap.Logger
}

// NewPostgres creates a source over pool, retrying transient failures up to
// attempts times.
func NewPostgres(pool db.Pool, attempts int) *Postgres {
	return &Postgres{
		pool:  pool,
		retry: resilience.WithAttempts(attempts, "source.postgres"),
		log:   zap.L().With(zap.String("component", "source")),
	}
}

// YearThreshold implements TrainingSource.
func (p *Postgres) YearThreshold(ctx context.Context, minYears int) (int, error) {
	years, err := resilience.DoVal(ctx, p.retry, func(ctx context.Context) ([]int, error) {
		rows, err := p.pool.Query(ctx, distinctYearsSQL)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var years []int
		for rows.Next() {
			var y int
			if err := rows.Scan(&y); err != nil {
				return nil, err
			}
			years = append(years, y)
		}
		return years, rows.Err()
	})
	if err != nil {
		return 0, eris.Wrap(err, "source: distinct years")
	}

	threshold, err := Threshold(years, minYears)
	if err != nil {
		return 0, err
	}
	p.log.Info("source: year window resolved",
		zap.Int("years_available", len(years)),
		zap.Int("min_years", minYears),
		zap.Int("min_year", threshold),
	)
	return threshold, nil
}

// TrainingRows implements TrainingSource.
func (p *Postgres) TrainingRows(ctx context.Context, minYear int) (model.RawBatch, error) {
	rows, err := p.queryRows(ctx, trainingRowsSQL, minYear)
	if err != nil {
		return model.RawBatch{}, eris.Wrapf(err, "source: training rows since %d", minYear)
	}
	p.log.Info("source: training rows fetched", zap.Int("rows", len(rows)), zap.Int("min_year", minYear))
	return model.NewRawBatch(rows), nil
}

// TargetYear implements ContextSource.
func (p *Postgres) TargetYear(ctx context.Context, locationID int, season string, year int) (int, bool, error) {
	season = model.NormalizeSeason(season)
	target, err := p.maxYear(ctx, targetYearSQL, locationID, season, year)
	if err != nil {
		return 0, false, eris.Wrap(err, "source: target year")
	}
	if target == nil {
		target, err = p.maxYear(ctx, latestYearSQL, locationID, season)
		if err != nil {
			return 0, false, eris.Wrap(err, "source: latest year")
		}
	}
	if target == nil {
		return 0, false, nil
	}
	return *target, true, nil
}

// ContextRows implements ContextSource.
func (p *Postgres) ContextRows(ctx context.Context, locationID int, season string, year int) (model.RawBatch, error) {
	rows, err := p.queryRows(ctx, contextRowsSQL, locationID, model.NormalizeSeason(season), year)
	if err != nil {
		return model.RawBatch{}, eris.Wrapf(err, "source: context rows for location %d", locationID)
	}
	return model.NewRawBatch(rows), nil
}

func (p *Postgres) maxYear(ctx context.Context, sql string, args ...any) (*int, error) {
	return resilience.DoVal(ctx, p.retry, func(ctx context.Context) (*int, error) {
		var y *int
		if err := p.pool.QueryRow(ctx, sql, args...).Scan(&y); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, nil
			}
			return nil, err
		}
		return y, nil
	})
}

func (p *Postgres) queryRows(ctx context.Context, sql string, args ...any) ([]model.RawRow, error) {
	return resilience.DoVal(ctx, p.retry, func(ctx context.Context) ([]model.RawRow, error) {
		rows, err := p.pool.Query(ctx, sql, args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []model.RawRow
		for rows.Next() {
			var r model.RawRow
			if err := rows.Scan(
				&r.LocationID, &r.LocationName, &r.CropID, &r.CropName, &r.Year, &r.Season,
				&r.TotalYield, &r.AreaHa, &r.YieldPerHectare, &r.AvgPricePerKg,
			); err != nil {
				return nil, err
			}
			out = append(out, r)
		}
		return out, rows.Err()
	})
}
