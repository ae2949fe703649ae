package store

import (
	"context"
	"errors"
	"time"

	"PointsSettlement/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyBound   = errors.New("returned points already bound")
	ErrDuplicateEntry = errors.New("duplicate entry")
)

type OrderFilter struct {
	Statuses      []models.OrderStatus
	CreatedBefore time.Time
	CreatedAfter  time.Time
	// Transferred restricts to orders handed over to settlement.
	Transferred *bool
	Mailed      *bool
	Limit       int
}

type OperationFilter struct {
	Statuses      []models.OperationStatus
	CreatedBefore time.Time
	Unrefunded    bool
	Limit         int
}

// Tx is one atomic unit of work. Reads of orders and wallets lock the row.
type Tx interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetProduct(ctx context.Context, id int64) (*models.Product, error)

	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	UpdateOrder(ctx context.Context, order *models.Order) error
	ListOrders(ctx context.Context, f OrderFilter) ([]*models.Order, error)

	GetWallet(ctx context.Context, userID int64) (int64, error)
	SetWallet(ctx context.Context, userID int64, points int64) error
	AppendHistory(ctx context.Context, h *models.UserPointHistory) error
	GetHistory(ctx context.Context, id int64) (*models.UserPointHistory, error)
	ListHistory(ctx context.Context, userID int64) ([]*models.UserPointHistory, error)
	BindReturnedPoints(ctx context.Context, historyID, returnedID int64) error

	CreateOperation(ctx context.Context, op *models.Operation) error
	GetOperation(ctx context.Context, id int64) (*models.Operation, error)
	UpdateOperation(ctx context.Context, op *models.Operation) error
	ListOperations(ctx context.Context, f OperationFilter) ([]*models.Operation, error)
}

// Transactor runs fn inside a transaction that commits only if fn returns nil.
type Transactor interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

type Store struct {
	Pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

func (s *Store) WithTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgTx struct {
	tx pgx.Tx
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (t *pgTx) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	err := t.tx.QueryRow(ctx, `
		SELECT id, first_name, last_name, email, company_name, tax_id,
			street, city, postal_code, country_code
		FROM users WHERE id=$1
	`, id).Scan(
		&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.CompanyName, &u.TaxID,
		&u.Address.Street, &u.Address.City, &u.Address.PostalCode, &u.Address.CountryCode,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (t *pgTx) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	var p models.Product
	err := t.tx.QueryRow(ctx, `
		SELECT id, name, points, price_net, currency, active
		FROM products WHERE id=$1
	`, id).Scan(&p.ID, &p.Name, &p.Points, &p.PriceNet, &p.Currency, &p.Active)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}
