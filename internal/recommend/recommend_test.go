package recommend

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crop-advisor/internal/artifact"
	"github.com/sells-group/crop-advisor/internal/model"
	"github.com/sells-group/crop-advisor/internal/respcache"
	"github.com/sells-group/crop-advisor/internal/source"
)

// priceModel scores each row by its average price.
type priceModel struct{}

func (priceModel) Algorithm() string { return "price" }

func (priceModel) PredictProbability(X []model.FeatureRow) ([]float64, error) {
	out := make([]float64, len(X))
	for i, r := range X {
		out[i] = r.AvgPricePerKg / 100
	}
	return out, nil
}

func (m priceModel) Predict(X []model.FeatureRow) ([]int, error) {
	p, _ := m.PredictProbability(X)
	out := make([]int, len(p))
	for i, v := range p {
		if v >= 0.5 {
			out[i] = 1
		}
	}
	return out, nil
}

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, val []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		c.data = map[string][]byte{}
	}
	c.data[key] = val
	c.sets++
	return nil
}

func (c *memCache) Close() error { return nil }

func history() model.RawBatch {
	row := func(loc, crop, year int, season string, yield, area, yph, price float64) model.RawRow {
		return model.RawRow{
			LocationID: loc, LocationName: "Loc", CropID: crop, CropName: []string{"", "rice", "maize", "cassava"}[crop],
			Year: year, Season: season,
			TotalYield: model.Float(yield), AreaHa: model.Float(area),
			YieldPerHectare: model.Float(yph), AvgPricePerKg: model.Float(price),
		}
	}
	return model.NewRawBatch([]model.RawRow{
		row(1, 1, 2021, "wet", 100, 10, 10, 20),
		row(1, 2, 2021, "wet", 100, 10, 10, 60),
		row(1, 1, 2022, "wet", 100, 10, 10, 30),
		row(1, 2, 2022, "wet", 200, 10, 20, 70),
		row(1, 3, 2022, "wet", 100, 10, 10, 10),
		row(1, 1, 2022, "dry", 100, 10, 10, 50),
	})
}

func newService(t *testing.T, loader artifact.Loader, opts ...Option) *Service {
	t.Helper()
	return New(artifact.NewCache(loader), source.NewMemory(history()), opts...)
}

func staticLoader() artifact.Loader {
	return artifact.LoaderFunc(func(context.Context) (*artifact.Snapshot, error) {
		return &artifact.Snapshot{
			Model:          priceModel{},
			Metadata:       json.RawMessage(`{"training":{"records":6}}`),
			FeatureColumns: model.FeatureColumns,
			SourcePath:     "models/crop_recommendation_20240101_000000.model",
			LoadedAt:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		}, nil
	})
}

func TestRecommend_RanksLatestYearAtOrBeforeRequest(t *testing.T) {
	svc := newService(t, staticLoader())

	resp, err := svc.Recommend(context.Background(), Request{LocationID: 1, Season: " Wet ", Year: 2030, TopK: 2})
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, "models/crop_recommendation_20240101_000000.model", resp.Model.Path)
	assert.Equal(t, 2022, resp.Context.TargetYear)
	assert.Equal(t, 2030, resp.Context.Year)
	assert.Equal(t, "wet", resp.Context.Season)
	assert.Equal(t, 2, resp.Context.Rows)
	assert.JSONEq(t, `{"training":{"records":6}}`, string(resp.Metadata))

	require.Len(t, resp.Predictions, 2)
	first := resp.Predictions[0]
	assert.Equal(t, 1, first.Rank)
	assert.Equal(t, "maize", first.CropName)
	assert.Equal(t, 2030, first.Year)
	assert.Equal(t, "Wet", first.SeasonLabel)
	require.NotNil(t, first.AvgYield)
	require.NotNil(t, first.AvgPrice)
	assert.InDelta(t, 20.0, *first.AvgYield, 1e-9)
	assert.InDelta(t, 70.0, *first.AvgPrice, 1e-9)
	assert.Equal(t, "rice", resp.Predictions[1].CropName)
}

func TestRecommend_OlderRequestUsesThatYear(t *testing.T) {
	svc := newService(t, staticLoader())

	resp, err := svc.Recommend(context.Background(), Request{LocationID: 1, Season: "wet", Year: 2021})
	require.NoError(t, err)
	assert.Equal(t, 2021, resp.Context.TargetYear)
	assert.Equal(t, 3, resp.Context.TopK)
	require.Len(t, resp.Predictions, 2)
	assert.Equal(t, "maize", resp.Predictions[0].CropName)
}

func TestRecommend_FallsBackToLatestYear(t *testing.T) {
	svc := newService(t, staticLoader())

	resp, err := svc.Recommend(context.Background(), Request{LocationID: 1, Season: "dry", Year: 2000})
	require.NoError(t, err)
	assert.Equal(t, 2022, resp.Context.TargetYear)
	require.Len(t, resp.Predictions, 1)
}

func TestRecommend_TopKClamped(t *testing.T) {
	svc := newService(t, staticLoader())

	resp, err := svc.Recommend(context.Background(), Request{LocationID: 1, Season: "wet", Year: 2022, TopK: 50})
	require.NoError(t, err)
	assert.Equal(t, 10, resp.Context.TopK)
	assert.Len(t, resp.Predictions, 3)
}

func TestRecommend_ValidationErrors(t *testing.T) {
	svc := newService(t, staticLoader())

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"bad season", Request{LocationID: 1, Season: "spring", Year: 2022}, model.ErrInvalidSeason},
		{"empty season", Request{LocationID: 1, Year: 2022}, model.ErrInvalidSeason},
		{"bad location", Request{LocationID: 0, Season: "wet", Year: 2022}, model.ErrInvalidRequest},
		{"bad year", Request{LocationID: 1, Season: "wet", Year: -1}, model.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Recommend(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestRecommend_UnknownLocation(t *testing.T) {
	svc := newService(t, staticLoader())

	_, err := svc.Recommend(context.Background(), Request{LocationID: 99, Season: "wet", Year: 2022})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrEmptyGroup))
}

func TestRecommend_ArtifactsUnavailable(t *testing.T) {
	svc := newService(t, artifact.LoaderFunc(func(context.Context) (*artifact.Snapshot, error) {
		return nil, model.ErrArtifactNotFound
	}))

	_, err := svc.Recommend(context.Background(), Request{LocationID: 1, Season: "wet", Year: 2022})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrArtifactNotFound))
	assert.Error(t, svc.Ready(context.Background()))
}

func TestRecommend_ServesFromResponseCache(t *testing.T) {
	cache := &memCache{}
	svc := newService(t, staticLoader(), WithResponseCache(cache))
	req := Request{LocationID: 1, Season: "wet", Year: 2022, TopK: 2}

	first, err := svc.Recommend(context.Background(), req)
	require.NoError(t, err)
	second, err := svc.Recommend(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 1, cache.sets)
	assert.Equal(t, first.Predictions, second.Predictions)
	assert.Equal(t, first.Context, second.Context)
}

func TestRecommend_IgnoresCorruptCacheEntry(t *testing.T) {
	cache := &memCache{data: map[string][]byte{}}
	svc := newService(t, staticLoader(), WithResponseCache(cache))
	req := Request{LocationID: 1, Season: "wet", Year: 2022, TopK: 3}
	valid, err := Validate(req)
	require.NoError(t, err)
	key := respcache.Key("models/crop_recommendation_20240101_000000.model", 1, "wet", 2022, 3)
	cache.data[key] = []byte("not json")

	resp, err := svc.Recommend(context.Background(), valid)
	require.NoError(t, err)
	assert.Len(t, resp.Predictions, 3)
	assert.Equal(t, 1, cache.sets)
}

func TestValidate_Normalizes(t *testing.T) {
	req, err := Validate(Request{LocationID: 3, Season: " DRY", Year: 2024, TopK: -4})
	require.NoError(t, err)
	assert.Equal(t, "dry", req.Season)
	assert.Equal(t, 1, req.TopK)
}
