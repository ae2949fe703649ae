package store

import (
	"context"
	"fmt"
	"strings"

	"PointsSettlement/internal/models"

	"github.com/jackc/pgx/v5"
)

const operationColumns = `
	id, user_id, kind, external_id, status, percentage_done, spent_points,
	spend_history_id, returned_points_history_id, refund_closed, created_at, updated_at`

func (t *pgTx) CreateOperation(ctx context.Context, op *models.Operation) error {
	return t.tx.QueryRow(ctx, `
		INSERT INTO spend_operations (
			user_id, kind, external_id, status, percentage_done, spent_points,
			spend_history_id, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
		RETURNING id
	`,
		op.UserID,
		op.Kind,
		op.ExternalID,
		op.Status,
		op.PercentageDone,
		op.SpentPoints,
		op.SpendHistoryID,
		op.CreatedAt,
	).Scan(&op.ID)
}

func (t *pgTx) GetOperation(ctx context.Context, id int64) (*models.Operation, error) {
	op, err := scanOperation(t.tx.QueryRow(ctx, `SELECT `+operationColumns+` FROM spend_operations WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return op, nil
}

func (t *pgTx) UpdateOperation(ctx context.Context, op *models.Operation) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE spend_operations
		SET status=$2, percentage_done=$3, spend_history_id=$4,
			returned_points_history_id=$5, refund_closed=$6, updated_at=now()
		WHERE id=$1
	`, op.ID, op.Status, op.PercentageDone, op.SpendHistoryID, op.ReturnedPointsHistoryID, op.RefundClosed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) ListOperations(ctx context.Context, f OperationFilter) ([]*models.Operation, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, s := range f.Statuses {
			statuses = append(statuses, string(s))
		}
		where = append(where, "status = ANY("+arg(statuses)+")")
	}
	if !f.CreatedBefore.IsZero() {
		where = append(where, "created_at < "+arg(f.CreatedBefore))
	}
	if f.Unrefunded {
		where = append(where, "returned_points_history_id IS NULL AND NOT refund_closed")
	}

	query := `SELECT ` + operationColumns + ` FROM spend_operations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}

	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []*models.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func scanOperation(row pgx.Row) (*models.Operation, error) {
	var op models.Operation
	err := row.Scan(
		&op.ID,
		&op.UserID,
		&op.Kind,
		&op.ExternalID,
		&op.Status,
		&op.PercentageDone,
		&op.SpentPoints,
		&op.SpendHistoryID,
		&op.ReturnedPointsHistoryID,
		&op.RefundClosed,
		&op.CreatedAt,
		&op.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &op, nil
}
