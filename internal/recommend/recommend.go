// Package recommend answers "which crops should this location plant" for a
// season and year using the cached model and the latest approved context rows.
package recommend

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/crop-advisor/internal/artifact"
	"github.com/sells-group/crop-advisor/internal/features"
	"github.com/sells-group/crop-advisor/internal/model"
	"github.com/sells-group/crop-advisor/internal/ranker"
	"github.com/sells-group/crop-advisor/internal/respcache"
	"github.com/sells-group/crop-advisor/internal/source"
)

// Request is one recommendation query. TopK is clamped, never rejected.
type Request struct {
	LocationID int    `json:"location_id"`
	Season     string `json:"season"`
	Year       int    `json:"year"`
	TopK       int    `json:"top_k"`
}

// ModelInfo identifies the artifact that produced a response.
type ModelInfo struct {
	Path     string    `json:"path" yaml:"path"`
	LoadedAt time.Time `json:"loaded_at" yaml:"loaded_at"`
}

// Context echoes the resolved request.
type Context struct {
	LocationID int    `json:"location_id" yaml:"location_id"`
	Season     string `json:"season" yaml:"season"`
	Year       int    `json:"year" yaml:"year"`
	TargetYear int    `json:"target_year" yaml:"target_year"`
	TopK       int    `json:"top_k" yaml:"top_k"`
	Rows       int    `json:"rows" yaml:"rows"`
}

// Response is the full recommendation payload.
type Response struct {
	Success     bool                   `json:"success" yaml:"success"`
	Model       ModelInfo              `json:"model" yaml:"model"`
	Context     Context                `json:"context" yaml:"context"`
	Metadata    json.RawMessage        `json:"metadata" yaml:"-"`
	Predictions []model.Recommendation `json:"predictions" yaml:"predictions"`
}

// Service answers recommendation requests. It is safe for concurrent use.
type Service struct {
	models *artifact.Cache
	source source.ContextSource
	cache  respcache.Cache
	log    *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithResponseCache stores rendered responses in c.
func WithResponseCache(c respcache.Cache) Option {
	return func(s *Service) { s.cache = c }
}

// New creates a Service.
func New(models *artifact.Cache, src source.ContextSource, opts ...Option) *Service {
	s := &Service{
		models: models,
		source: src,
		cache:  respcache.Noop{},
		log:    zap.L().With(zap.String("component", "recommend")),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Ready loads the model if needed and reports the load error, if any.
func (s *Service) Ready(ctx context.Context) error {
	_, err := s.models.Get(ctx)
	return err
}

// Validate normalizes req and checks the fields a lookup needs.
func Validate(req Request) (Request, error) {
	req.Season = model.NormalizeSeason(req.Season)
	if !model.ValidSeason(req.Season) {
		return req, eris.Wrapf(model.ErrInvalidSeason, "recommend: season must be either 'wet' or 'dry' (got %q)", req.Season)
	}
	if req.LocationID <= 0 {
		return req, eris.Wrapf(model.ErrInvalidRequest, "recommend: location_id must be positive (got %d)", req.LocationID)
	}
	if req.Year <= 0 {
		return req, eris.Wrapf(model.ErrInvalidRequest, "recommend: year must be positive (got %d)", req.Year)
	}
	req.TopK = ranker.ClampTopK(req.TopK)
	return req, nil
}

// Recommend ranks candidate crops for the request.
func (s *Service) Recommend(ctx context.Context, req Request) (*Response, error) {
	req, err := Validate(req)
	if err != nil {
		return nil, err
	}

	snap, err := s.models.Get(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "recommend: model artifacts unavailable")
	}

	key := respcache.Key(snap.SourcePath, req.LocationID, req.Season, req.Year, req.TopK)
	if resp, ok := s.cached(ctx, key); ok {
		return resp, nil
	}

	target, ok, err := s.source.TargetYear(ctx, req.LocationID, req.Season, req.Year)
	if err != nil {
		return nil, eris.Wrap(err, "recommend: fetch reference data")
	}
	if !ok {
		return nil, eris.Wrapf(model.ErrEmptyGroup,
			"recommend: no approved data found for location %d, season %s", req.LocationID, req.Season)
	}
	batch, err := s.source.ContextRows(ctx, req.LocationID, req.Season, target)
	if err != nil {
		return nil, eris.Wrap(err, "recommend: fetch reference data")
	}
	if len(batch.Rows) == 0 {
		return nil, eris.Wrapf(model.ErrEmptyGroup,
			"recommend: no approved data found for location %d, season %s, year %d", req.LocationID, req.Season, target)
	}

	obs, err := features.Engineer(batch)
	if err != nil {
		return nil, eris.Wrap(err, "recommend: prepare context rows")
	}
	for i := range obs {
		obs[i].Year = req.Year
		obs[i].Season = req.Season
		obs[i].LocationID = req.LocationID
	}

	probs, err := snap.Model.PredictProbability(features.Matrix(obs))
	if err != nil {
		return nil, eris.Wrap(err, "recommend: model inference failed")
	}
	scored := make([]model.ScoredObservation, len(obs))
	for i, o := range obs {
		scored[i] = model.ScoredObservation{Observation: o, Probability: probs[i]}
	}
	recs, err := ranker.Rank(scored, req.TopK)
	if err != nil {
		return nil, eris.Wrap(err, "recommend: rank")
	}
	enrich(recs, obs)

	resp := &Response{
		Success: true,
		Model:   ModelInfo{Path: snap.SourcePath, LoadedAt: snap.LoadedAt},
		Context: Context{
			LocationID: req.LocationID,
			Season:     req.Season,
			Year:       req.Year,
			TargetYear: target,
			TopK:       req.TopK,
			Rows:       len(recs),
		},
		Metadata:    snap.Metadata,
		Predictions: recs,
	}
	s.store(ctx, key, resp)

	s.log.Debug("recommend: served",
		zap.Int("location_id", req.LocationID),
		zap.String("season", req.Season),
		zap.Int("year", req.Year),
		zap.Int("target_year", target),
		zap.Int("predictions", len(recs)),
	)
	return resp, nil
}

// enrich attaches the engineered yield and price of each crop.
func enrich(recs []model.Recommendation, obs []model.Observation) {
	byCrop := make(map[int]model.Observation, len(obs))
	for _, o := range obs {
		if _, ok := byCrop[o.CropID]; !ok {
			byCrop[o.CropID] = o
		}
	}
	for i := range recs {
		o, ok := byCrop[recs[i].CropID]
		if !ok {
			continue
		}
		yield, price := o.YieldPerHectare, o.AvgPricePerKg
		recs[i].AvgYield = &yield
		recs[i].AvgPrice = &price
	}
}

func (s *Service) cached(ctx context.Context, key string) (*Response, bool) {
	body, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.Warn("recommend: response cache read failed", zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		s.log.Warn("recommend: discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &resp, true
}

func (s *Service) store(ctx context.Context, key string, resp *Response) {
	body, err := json.Marshal(resp)
	if err != nil {
		s.log.Warn("recommend: encode response for cache", zap.Error(err))
		return
	}
	if err := s.cache.Set(ctx, key, body); err != nil {
		s.log.Warn("recommend: response cache write failed", zap.Error(err))
	}
}
