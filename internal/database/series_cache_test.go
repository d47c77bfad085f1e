package database

import (
	"testing"
	"time"

	"github.com/foliotrack/valuation-service/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seriesPoints(values map[string]int64) []models.TimeSeriesPoint {
	var points []models.TimeSeriesPoint
	for date, v := range values {
		d, _ := time.Parse("2006-01-02", date)
		points = append(points, models.TimeSeriesPoint{Date: d, Value: decimal.NewFromInt(v)})
	}
	return points
}

func TestSeriesCache(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	testDB := SetupTestDB(t)
	defer testDB.Cleanup(t)

	mustDay := func(s string) time.Time {
		d, err := time.Parse("2006-01-02", s)
		require.NoError(t, err)
		return d
	}

	t.Run("read on empty cache is stale with no data", func(t *testing.T) {
		testDB.TruncateAll(t)

		slice, err := testDB.ReadSlice("user-1", "SPY", mustDay("2024-01-01"), mustDay("2024-01-31"))
		require.NoError(t, err)
		assert.True(t, slice.IsStale)
		assert.Nil(t, slice.CoverageEnd)
		assert.Empty(t, slice.Data)
	})

	t.Run("write then read back in date order", func(t *testing.T) {
		testDB.TruncateAll(t)

		points := seriesPoints(map[string]int64{
			"2024-01-03": 1010,
			"2024-01-02": 1000,
			"2024-01-04": 1020,
		})
		require.NoError(t, testDB.WriteBulk("user-1", "SPY", points))

		slice, err := testDB.ReadSlice("user-1", "SPY", mustDay("2024-01-01"), mustDay("2024-01-04"))
		require.NoError(t, err)
		require.Len(t, slice.Data, 3)
		for i := 1; i < len(slice.Data); i++ {
			assert.True(t, slice.Data[i].Date.After(slice.Data[i-1].Date))
		}
		assert.False(t, slice.IsStale, "coverage reaches the requested end")
		require.NotNil(t, slice.CoverageEnd)
		assert.Equal(t, "2024-01-04", slice.CoverageEnd.Format("2006-01-02"))
	})

	t.Run("coverage short of the requested end is stale", func(t *testing.T) {
		testDB.TruncateAll(t)

		require.NoError(t, testDB.WriteBulk("user-1", "SPY", seriesPoints(map[string]int64{
			"2024-01-02": 1000,
			"2024-01-03": 1010,
		})))

		slice, err := testDB.ReadSlice("user-1", "SPY", mustDay("2024-01-01"), mustDay("2024-01-31"))
		require.NoError(t, err)
		assert.True(t, slice.IsStale, "cache ends before the requested end")
		require.Len(t, slice.Data, 2, "stale reads still return what is cached")
	})

	t.Run("rewrite overwrites values for existing dates", func(t *testing.T) {
		testDB.TruncateAll(t)

		require.NoError(t, testDB.WriteBulk("user-1", "SPY", seriesPoints(map[string]int64{"2024-01-02": 1000})))
		require.NoError(t, testDB.WriteBulk("user-1", "SPY", seriesPoints(map[string]int64{"2024-01-02": 1111})))

		slice, err := testDB.ReadSlice("user-1", "SPY", mustDay("2024-01-02"), mustDay("2024-01-02"))
		require.NoError(t, err)
		require.Len(t, slice.Data, 1, "rewrite must not duplicate rows")
		assert.True(t, decimal.NewFromInt(1111).Equal(slice.Data[0].Value))
	})

	t.Run("portfolio and benchmark series are separate keys", func(t *testing.T) {
		testDB.TruncateAll(t)

		require.NoError(t, testDB.WriteBulk("user-1", models.SeriesKeyPortfolio, seriesPoints(map[string]int64{"2024-01-02": 500})))
		require.NoError(t, testDB.WriteBulk("user-1", "SPY", seriesPoints(map[string]int64{"2024-01-02": 600})))

		slice, err := testDB.ReadSlice("user-1", models.SeriesKeyPortfolio, mustDay("2024-01-02"), mustDay("2024-01-02"))
		require.NoError(t, err)
		require.Len(t, slice.Data, 1)
		assert.True(t, decimal.NewFromInt(500).Equal(slice.Data[0].Value))
	})

	t.Run("invalidate selected benchmarks", func(t *testing.T) {
		testDB.TruncateAll(t)

		require.NoError(t, testDB.WriteBulk("user-1", models.SeriesKeyPortfolio, seriesPoints(map[string]int64{"2024-01-02": 500})))
		require.NoError(t, testDB.WriteBulk("user-1", "SPY", seriesPoints(map[string]int64{"2024-01-02": 600})))
		require.NoError(t, testDB.WriteBulk("user-1", "QQQ", seriesPoints(map[string]int64{"2024-01-02": 700})))

		deleted, err := testDB.InvalidateSeries("user-1", []string{models.SeriesKeyPortfolio, "SPY"})
		require.NoError(t, err)
		assert.Equal(t, int64(2), deleted)

		slice, err := testDB.ReadSlice("user-1", "QQQ", mustDay("2024-01-02"), mustDay("2024-01-02"))
		require.NoError(t, err)
		assert.Len(t, slice.Data, 1, "untouched benchmark survives")
	})

	t.Run("invalidate with no benchmarks wipes the user", func(t *testing.T) {
		testDB.TruncateAll(t)

		require.NoError(t, testDB.WriteBulk("user-1", models.SeriesKeyPortfolio, seriesPoints(map[string]int64{"2024-01-02": 500})))
		require.NoError(t, testDB.WriteBulk("user-1", "SPY", seriesPoints(map[string]int64{"2024-01-02": 600})))
		require.NoError(t, testDB.WriteBulk("user-2", "SPY", seriesPoints(map[string]int64{"2024-01-02": 900})))

		deleted, err := testDB.InvalidateSeries("user-1", nil)
		require.NoError(t, err)
		assert.Equal(t, int64(2), deleted)

		slice, err := testDB.ReadSlice("user-2", "SPY", mustDay("2024-01-02"), mustDay("2024-01-02"))
		require.NoError(t, err)
		assert.Len(t, slice.Data, 1, "other users are untouched")
	})

	t.Run("latest cache time", func(t *testing.T) {
		testDB.TruncateAll(t)

		_, ok, err := testDB.GetLatestCacheTime("user-1", "SPY")
		require.NoError(t, err)
		assert.False(t, ok)

		before := time.Now().Add(-time.Second)
		require.NoError(t, testDB.WriteBulk("user-1", "SPY", seriesPoints(map[string]int64{"2024-01-02": 600})))

		latest, ok, err := testDB.GetLatestCacheTime("user-1", "SPY")
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, latest.After(before))
	})

	t.Run("series stats per benchmark", func(t *testing.T) {
		testDB.TruncateAll(t)

		require.NoError(t, testDB.WriteBulk("user-1", models.SeriesKeyPortfolio, seriesPoints(map[string]int64{
			"2024-01-02": 500,
			"2024-01-03": 510,
		})))
		require.NoError(t, testDB.WriteBulk("user-1", "SPY", seriesPoints(map[string]int64{"2024-01-02": 600})))

		stats, err := testDB.GetSeriesStats("user-1")
		require.NoError(t, err)
		require.Len(t, stats, 2)

		byBenchmark := make(map[string]models.SeriesStats)
		for _, s := range stats {
			byBenchmark[s.Benchmark] = s
		}
		portfolio := byBenchmark[models.SeriesKeyPortfolio]
		assert.Equal(t, 2, portfolio.Points)
		require.NotNil(t, portfolio.FirstDate)
		assert.Equal(t, "2024-01-02", portfolio.FirstDate.Format("2006-01-02"))
		require.NotNil(t, portfolio.LastDate)
		assert.Equal(t, "2024-01-03", portfolio.LastDate.Format("2006-01-02"))
		assert.Equal(t, 1, byBenchmark["SPY"].Points)
	})
}
