package store_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"PointsSettlement/internal/db"
	"PointsSettlement/internal/ledger"
	"PointsSettlement/internal/migrate"
	"PointsSettlement/internal/models"
	"PointsSettlement/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a real database when POINTS_TEST_DSN is set.
func newPgStore(t *testing.T) (*store.Store, int64) {
	t.Helper()
	dsn := os.Getenv("POINTS_TEST_DSN")
	if dsn == "" {
		t.Skip("POINTS_TEST_DSN not set")
	}
	ctx := context.Background()
	require.NoError(t, migrate.Up(ctx, dsn))
	pool, err := db.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	var userID int64
	email := fmt.Sprintf("wallet-%d@example.com", time.Now().UnixNano())
	require.NoError(t, pool.QueryRow(ctx, `INSERT INTO users (email) VALUES ($1) RETURNING id`, email).Scan(&userID))
	return store.New(pool), userID
}

func TestConcurrentFirstCreditsSerialize(t *testing.T) {
	st, userID := newPgStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = st.WithTx(ctx, func(tx store.Tx) error {
				_, err := ledger.Credit(ctx, tx, ledger.Entry{UserID: userID, Points: 10, Information: "credit"})
				return err
			})
		}(i)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	var balance int64
	var hist []*models.UserPointHistory
	require.NoError(t, st.WithTx(ctx, func(tx store.Tx) error {
		var err error
		if balance, err = tx.GetWallet(ctx, userID); err != nil {
			return err
		}
		hist, err = tx.ListHistory(ctx, userID)
		return err
	}))
	assert.EqualValues(t, 20, balance)
	require.Len(t, hist, 2)
	assert.EqualValues(t, 0, hist[0].AmountBefore)
	assert.EqualValues(t, 10, hist[0].AmountNow)
	assert.EqualValues(t, 10, hist[1].AmountBefore)
	assert.EqualValues(t, 20, hist[1].AmountNow)
}

func TestGetWalletCreatesRow(t *testing.T) {
	st, userID := newPgStore(t)
	ctx := context.Background()
	require.NoError(t, st.WithTx(ctx, func(tx store.Tx) error {
		points, err := tx.GetWallet(ctx, userID)
		assert.Zero(t, points)
		return err
	}))
	var n int
	require.NoError(t, st.Pool.QueryRow(ctx, `SELECT count(*) FROM wallets WHERE user_id=$1`, userID).Scan(&n))
	assert.Equal(t, 1, n)
}
