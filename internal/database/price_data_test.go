package database

import (
	"context"
	"testing"
	"time"

	"github.com/foliotrack/valuation-service/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBar(symbol, date string, close float64) *models.PriceDataDaily {
	d, _ := time.Parse("2006-01-02", date)
	c := decimal.NewFromFloat(close)
	return &models.PriceDataDaily{
		Symbol: symbol,
		Date:   d,
		Open:   c,
		High:   c,
		Low:    c,
		Close:  c,
		Volume: 1000,
	}
}

func TestPriceData(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	testDB := SetupTestDB(t)
	defer testDB.Cleanup(t)
	ctx := context.Background()

	t.Run("batch upsert and range query", func(t *testing.T) {
		testDB.TruncateAll(t)

		bars := []*models.PriceDataDaily{
			testBar("AAPL", "2024-01-02", 150),
			testBar("AAPL", "2024-01-03", 151),
			testBar("AAPL", "2024-01-04", 152),
			testBar("MSFT", "2024-01-02", 200),
		}
		require.NoError(t, testDB.UpsertPriceDataBatch(bars))

		start, _ := time.Parse("2006-01-02", "2024-01-02")
		end, _ := time.Parse("2006-01-02", "2024-01-03")
		prices, err := testDB.GetPrices(ctx, "AAPL", start, end)
		require.NoError(t, err)
		require.Len(t, prices, 2)
		assert.True(t, prices[0].Date.Before(prices[1].Date))
		assert.True(t, decimal.NewFromInt(150).Equal(prices[0].Close))
	})

	t.Run("upsert refreshes an existing bar", func(t *testing.T) {
		testDB.TruncateAll(t)

		require.NoError(t, testDB.UpsertPriceDataBatch([]*models.PriceDataDaily{testBar("AAPL", "2024-01-02", 150)}))
		require.NoError(t, testDB.UpsertPriceDataBatch([]*models.PriceDataDaily{testBar("AAPL", "2024-01-02", 155)}))

		close, _, err := testDB.GetLatestClose("AAPL")
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(155).Equal(close), "close = %s", close)
	})

	t.Run("latest close picks the newest date", func(t *testing.T) {
		testDB.TruncateAll(t)

		require.NoError(t, testDB.UpsertPriceDataBatch([]*models.PriceDataDaily{
			testBar("AAPL", "2024-01-02", 150),
			testBar("AAPL", "2024-01-05", 153),
		}))

		close, date, err := testDB.GetLatestClose("AAPL")
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(153).Equal(close))
		assert.Equal(t, "2024-01-05", date.Format("2006-01-02"))
	})

	t.Run("latest close for unknown symbol errors", func(t *testing.T) {
		testDB.TruncateAll(t)

		_, _, err := testDB.GetLatestClose("NOPE")
		assert.Error(t, err)
	})

	t.Run("delete older than", func(t *testing.T) {
		testDB.TruncateAll(t)

		require.NoError(t, testDB.UpsertPriceDataBatch([]*models.PriceDataDaily{
			testBar("AAPL", "2023-01-02", 130),
			testBar("AAPL", "2024-01-02", 150),
		}))

		cutoff, _ := time.Parse("2006-01-02", "2024-01-01")
		deleted, err := testDB.DeletePriceDataOlderThan(cutoff)
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		start, _ := time.Parse("2006-01-02", "2023-01-01")
		end, _ := time.Parse("2006-01-02", "2024-12-31")
		prices, err := testDB.GetPrices(ctx, "AAPL", start, end)
		require.NoError(t, err)
		require.Len(t, prices, 1)
		assert.Equal(t, "2024-01-02", prices[0].Date.Format("2006-01-02"))
	})
}
