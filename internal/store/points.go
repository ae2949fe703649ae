package store

import (
	"context"
	"errors"

	"PointsSettlement/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// GetWallet locks the wallet row, creating it first so that concurrent first
// credits serialize on the same row.
func (t *pgTx) GetWallet(ctx context.Context, userID int64) (int64, error) {
	if _, err := t.tx.Exec(ctx, `INSERT INTO wallets (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
		return 0, err
	}
	var points int64
	err := t.tx.QueryRow(ctx, `SELECT points FROM wallets WHERE user_id=$1 FOR UPDATE`, userID).Scan(&points)
	return points, err
}

func (t *pgTx) SetWallet(ctx context.Context, userID int64, points int64) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO wallets (user_id, points, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE SET points=EXCLUDED.points, updated_at=now()
	`, userID, points)
	return err
}

func (t *pgTx) AppendHistory(ctx context.Context, h *models.UserPointHistory) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO user_point_history (
			user_id, amount_before, amount_now, type, information,
			order_id, operation_id, extra_data, internal_data, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING id
	`,
		h.UserID,
		h.AmountBefore,
		h.AmountNow,
		h.Type,
		h.Information,
		h.OrderID,
		h.OperationID,
		jsonMap(h.ExtraData),
		jsonMap(h.InternalData),
		h.CreatedAt,
	).Scan(&h.ID)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateEntry
	}
	return err
}

const historyColumns = `
	id, user_id, amount_before, amount_now, type, information,
	order_id, operation_id, returned_points_history_id, extra_data, internal_data, created_at`

func (t *pgTx) GetHistory(ctx context.Context, id int64) (*models.UserPointHistory, error) {
	h, err := scanHistory(t.tx.QueryRow(ctx, `SELECT `+historyColumns+` FROM user_point_history WHERE id=$1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return h, nil
}

func (t *pgTx) ListHistory(ctx context.Context, userID int64) ([]*models.UserPointHistory, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+historyColumns+` FROM user_point_history WHERE user_id=$1 ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.UserPointHistory
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// BindReturnedPoints sets the only mutable field of a history entry, once.
func (t *pgTx) BindReturnedPoints(ctx context.Context, historyID, returnedID int64) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE user_point_history SET returned_points_history_id=$2
		WHERE id=$1 AND returned_points_history_id IS NULL
	`, historyID, returnedID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyBound
	}
	return nil
}

func scanHistory(row pgx.Row) (*models.UserPointHistory, error) {
	var h models.UserPointHistory
	err := row.Scan(
		&h.ID,
		&h.UserID,
		&h.AmountBefore,
		&h.AmountNow,
		&h.Type,
		&h.Information,
		&h.OrderID,
		&h.OperationID,
		&h.ReturnedPointsHistoryID,
		&h.ExtraData,
		&h.InternalData,
		&h.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func jsonMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
