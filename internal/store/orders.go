package store

import (
	"context"
	"fmt"
	"strings"

	"PointsSettlement/internal/models"

	"github.com/jackc/pgx/v5"
)

const orderColumns = `
	o.id, o.user_id, o.status, o.activated, o.mailed, o.transferred_to_settlement,
	o.target_currency_code, o.created_at, o.updated_at,
	p.unit_price_net, p.unit_price_gross, p.payment_tool_name, p.payment_tool_data,
	c.total_net, c.total_gross, c.tax_percentage, c.exchange_rate, c.currency,
	u.user_id, u.first_name, u.last_name, u.email, u.company_name, u.tax_id,
	u.street, u.city, u.postal_code, u.country_code`

const orderJoins = `
	FROM orders o
	JOIN payment_process_data p ON p.order_id = o.id
	JOIN order_costs c ON c.order_id = o.id
	JOIN order_user_snapshots u ON u.order_id = o.id`

func (t *pgTx) CreateOrder(ctx context.Context, o *models.Order) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO orders (
			user_id, status, activated, mailed, transferred_to_settlement,
			target_currency_code, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
		RETURNING id
	`,
		o.UserID,
		o.Status,
		o.Activated,
		o.Mailed,
		o.TransferredToSettlement,
		o.TargetCurrencyCode,
		o.CreatedAt,
	).Scan(&o.ID)
	if err != nil {
		return err
	}
	o.UpdatedAt = o.CreatedAt

	toolData := o.Payment.ToolData
	if toolData == nil {
		toolData = models.ToolData{}
	}

	batch := &pgx.Batch{}
	batch.Queue(`
		INSERT INTO payment_process_data (order_id, unit_price_net, unit_price_gross, payment_tool_name, payment_tool_data)
		VALUES ($1,$2,$3,$4,$5)
	`, o.ID, o.Payment.UnitPriceNet, o.Payment.UnitPriceGross, o.Payment.PaymentToolName, map[string]any(toolData))
	batch.Queue(`
		INSERT INTO order_costs (order_id, total_net, total_gross, tax_percentage, exchange_rate, currency)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, o.ID, o.Cost.TotalNet, o.Cost.TotalGross, o.Cost.TaxPercentage, o.Cost.ExchangeRate, o.Cost.Currency)
	ud := o.UserData
	batch.Queue(`
		INSERT INTO order_user_snapshots (
			order_id, user_id, first_name, last_name, email, company_name, tax_id,
			street, city, postal_code, country_code
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, o.ID, ud.UserID, ud.FirstName, ud.LastName, ud.Email, ud.CompanyName, ud.TaxID,
		ud.Address.Street, ud.Address.City, ud.Address.PostalCode, ud.Address.CountryCode)
	for _, ps := range o.Products {
		batch.Queue(`
			INSERT INTO order_product_snapshots (order_id, product_id, name, points, price_net, currency)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, o.ID, ps.ProductID, ps.Name, ps.Points, ps.PriceNet, ps.Currency)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *pgTx) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+orderColumns+orderJoins+` WHERE o.id=$1 FOR UPDATE OF o`, id)
	o, err := scanOrder(row)
	if err != nil {
		return nil, notFound(err)
	}
	if err := t.loadProducts(ctx, []*models.Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

func (t *pgTx) UpdateOrder(ctx context.Context, o *models.Order) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE orders
		SET status=$2, activated=$3, mailed=$4, transferred_to_settlement=$5, updated_at=now()
		WHERE id=$1
	`, o.ID, o.Status, o.Activated, o.Mailed, o.TransferredToSettlement)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	toolData := o.Payment.ToolData
	if toolData == nil {
		toolData = models.ToolData{}
	}
	_, err = t.tx.Exec(ctx, `
		UPDATE payment_process_data
		SET payment_tool_name=$2, payment_tool_data=$3
		WHERE order_id=$1
	`, o.ID, o.Payment.PaymentToolName, map[string]any(toolData))
	return err
}

func (t *pgTx) ListOrders(ctx context.Context, f OrderFilter) ([]*models.Order, error) {
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
		where = append(where, "o.status = ANY("+arg(statuses)+")")
	}
	if !f.CreatedBefore.IsZero() {
		where = append(where, "o.created_at < "+arg(f.CreatedBefore))
	}
	if !f.CreatedAfter.IsZero() {
		where = append(where, "o.created_at > "+arg(f.CreatedAfter))
	}
	if f.Transferred != nil {
		where = append(where, "o.transferred_to_settlement = "+arg(*f.Transferred))
	}
	if f.Mailed != nil {
		where = append(where, "o.mailed = "+arg(*f.Mailed))
	}

	query := `SELECT ` + orderColumns + orderJoins
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY o.id"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}

	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := t.loadProducts(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (t *pgTx) loadProducts(ctx context.Context, orders []*models.Order) error {
	if len(orders) == 0 {
		return nil
	}
	byID := make(map[int64]*models.Order, len(orders))
	ids := make([]int64, 0, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}

	rows, err := t.tx.Query(ctx, `
		SELECT order_id, product_id, name, points, price_net, currency
		FROM order_product_snapshots
		WHERE order_id = ANY($1)
		ORDER BY id
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var orderID int64
		var ps models.ProductSnapshot
		if err := rows.Scan(&orderID, &ps.ProductID, &ps.Name, &ps.Points, &ps.PriceNet, &ps.Currency); err != nil {
			return err
		}
		if o, ok := byID[orderID]; ok {
			o.Products = append(o.Products, ps)
		}
	}
	return rows.Err()
}

func scanOrder(row pgx.Row) (*models.Order, error) {
	var o models.Order
	var toolData map[string]any
	ud := &o.UserData
	err := row.Scan(
		&o.ID,
		&o.UserID,
		&o.Status,
		&o.Activated,
		&o.Mailed,
		&o.TransferredToSettlement,
		&o.TargetCurrencyCode,
		&o.CreatedAt,
		&o.UpdatedAt,
		&o.Payment.UnitPriceNet,
		&o.Payment.UnitPriceGross,
		&o.Payment.PaymentToolName,
		&toolData,
		&o.Cost.TotalNet,
		&o.Cost.TotalGross,
		&o.Cost.TaxPercentage,
		&o.Cost.ExchangeRate,
		&o.Cost.Currency,
		&ud.UserID,
		&ud.FirstName,
		&ud.LastName,
		&ud.Email,
		&ud.CompanyName,
		&ud.TaxID,
		&ud.Address.Street,
		&ud.Address.City,
		&ud.Address.PostalCode,
		&ud.Address.CountryCode,
	)
	if err != nil {
		return nil, err
	}
	if !o.Status.Valid() {
		return nil, fmt.Errorf("order %d has unknown status %q", o.ID, o.Status)
	}
	o.Payment.ToolData = models.ToolData(toolData)
	return &o, nil
}
