// Package memstore is an in-memory store.Transactor. Transactions are
// serialized and work on a copy of the state that replaces the committed
// state only when the callback succeeds.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"PointsSettlement/internal/models"
	"PointsSettlement/internal/store"
)

type Store struct {
	mu    sync.Mutex
	state *state
}

type state struct {
	users      map[int64]models.User
	products   map[int64]models.Product
	orders     map[int64]*models.Order
	wallets    map[int64]int64
	history    map[int64]*models.UserPointHistory
	operations map[int64]*models.Operation

	nextOrderID     int64
	nextHistoryID   int64
	nextOperationID int64
}

func New() *Store {
	return &Store{state: &state{
		users:      map[int64]models.User{},
		products:   map[int64]models.Product{},
		orders:     map[int64]*models.Order{},
		wallets:    map[int64]int64{},
		history:    map[int64]*models.UserPointHistory{},
		operations: map[int64]*models.Operation{},
	}}
}

func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&memTx{st: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *Store) PutUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.users[u.ID] = u
}

func (s *Store) PutProduct(p models.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.products[p.ID] = p
}

func (s *Store) PutWallet(userID, points int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.wallets[userID] = points
}

func (s *Store) Wallet(userID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.wallets[userID]
}

// SetOrderCreatedAt backdates an order; used to simulate abandoned or stuck orders.
func (s *Store) SetOrderCreatedAt(id int64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.state.orders[id]; ok {
		o.CreatedAt = at
	}
}

func (s *state) clone() *state {
	c := &state{
		users:           make(map[int64]models.User, len(s.users)),
		products:        make(map[int64]models.Product, len(s.products)),
		orders:          make(map[int64]*models.Order, len(s.orders)),
		wallets:         make(map[int64]int64, len(s.wallets)),
		history:         make(map[int64]*models.UserPointHistory, len(s.history)),
		operations:      make(map[int64]*models.Operation, len(s.operations)),
		nextOrderID:     s.nextOrderID,
		nextHistoryID:   s.nextHistoryID,
		nextOperationID: s.nextOperationID,
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = copyOrder(v)
	}
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	for k, v := range s.history {
		h := *v
		c.history[k] = &h
	}
	for k, v := range s.operations {
		op := *v
		c.operations[k] = &op
	}
	return c
}

func copyOrder(o *models.Order) *models.Order {
	c := *o
	if o.UserID != nil {
		uid := *o.UserID
		c.UserID = &uid
	}
	c.Payment.ToolData = o.Payment.ToolData.Clone()
	c.Products = append([]models.ProductSnapshot(nil), o.Products...)
	return &c
}

type memTx struct {
	st *state
}

func (t *memTx) GetUser(_ context.Context, id int64) (*models.User, error) {
	u, ok := t.st.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (t *memTx) GetProduct(_ context.Context, id int64) (*models.Product, error) {
	p, ok := t.st.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (t *memTx) CreateOrder(_ context.Context, o *models.Order) error {
	t.st.nextOrderID++
	o.ID = t.st.nextOrderID
	o.UpdatedAt = o.CreatedAt
	t.st.orders[o.ID] = copyOrder(o)
	return nil
}

func (t *memTx) GetOrder(_ context.Context, id int64) (*models.Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyOrder(o), nil
}

func (t *memTx) UpdateOrder(_ context.Context, o *models.Order) error {
	cur, ok := t.st.orders[o.ID]
	if !ok {
		return store.ErrNotFound
	}
	next := copyOrder(cur)
	next.Status = o.Status
	next.Activated = o.Activated
	next.Mailed = o.Mailed
	next.TransferredToSettlement = o.TransferredToSettlement
	next.Payment.PaymentToolName = o.Payment.PaymentToolName
	next.Payment.ToolData = o.Payment.ToolData.Clone()
	next.UpdatedAt = time.Now().UTC()
	t.st.orders[o.ID] = next
	return nil
}

func (t *memTx) ListOrders(_ context.Context, f store.OrderFilter) ([]*models.Order, error) {
	var out []*models.Order
	for _, id := range sortedKeys(t.st.orders) {
		o := t.st.orders[id]
		if len(f.Statuses) > 0 && !containsStatus(f.Statuses, o.Status) {
			continue
		}
		if !f.CreatedBefore.IsZero() && !o.CreatedAt.Before(f.CreatedBefore) {
			continue
		}
		if !f.CreatedAfter.IsZero() && !o.CreatedAt.After(f.CreatedAfter) {
			continue
		}
		if f.Transferred != nil && o.TransferredToSettlement != *f.Transferred {
			continue
		}
		if f.Mailed != nil && o.Mailed != *f.Mailed {
			continue
		}
		out = append(out, copyOrder(o))
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (t *memTx) GetWallet(_ context.Context, userID int64) (int64, error) {
	return t.st.wallets[userID], nil
}

func (t *memTx) SetWallet(_ context.Context, userID int64, points int64) error {
	t.st.wallets[userID] = points
	return nil
}

func (t *memTx) AppendHistory(_ context.Context, h *models.UserPointHistory) error {
	if h.Type == models.PointsReceived && h.OrderID != nil && h.OperationID == nil {
		for _, e := range t.st.history {
			if e.Type == models.PointsReceived && e.OrderID != nil && *e.OrderID == *h.OrderID && e.OperationID == nil {
				return store.ErrDuplicateEntry
			}
		}
	}
	t.st.nextHistoryID++
	h.ID = t.st.nextHistoryID
	c := *h
	t.st.history[h.ID] = &c
	return nil
}

func (t *memTx) GetHistory(_ context.Context, id int64) (*models.UserPointHistory, error) {
	h, ok := t.st.history[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *h
	return &c, nil
}

func (t *memTx) ListHistory(_ context.Context, userID int64) ([]*models.UserPointHistory, error) {
	var out []*models.UserPointHistory
	for _, id := range sortedKeys(t.st.history) {
		h := t.st.history[id]
		if h.UserID != userID {
			continue
		}
		c := *h
		out = append(out, &c)
	}
	return out, nil
}

func (t *memTx) BindReturnedPoints(_ context.Context, historyID, returnedID int64) error {
	h, ok := t.st.history[historyID]
	if !ok {
		return store.ErrNotFound
	}
	if h.ReturnedPointsHistoryID != nil {
		return store.ErrAlreadyBound
	}
	h.ReturnedPointsHistoryID = &returnedID
	return nil
}

func (t *memTx) CreateOperation(_ context.Context, op *models.Operation) error {
	for _, existing := range t.st.operations {
		if existing.ExternalID == op.ExternalID {
			return store.ErrDuplicateEntry
		}
	}
	t.st.nextOperationID++
	op.ID = t.st.nextOperationID
	op.UpdatedAt = op.CreatedAt
	c := *op
	t.st.operations[op.ID] = &c
	return nil
}

func (t *memTx) GetOperation(_ context.Context, id int64) (*models.Operation, error) {
	op, ok := t.st.operations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *op
	return &c, nil
}

func (t *memTx) UpdateOperation(_ context.Context, op *models.Operation) error {
	if _, ok := t.st.operations[op.ID]; !ok {
		return store.ErrNotFound
	}
	c := *op
	c.UpdatedAt = time.Now().UTC()
	t.st.operations[op.ID] = &c
	return nil
}

func (t *memTx) ListOperations(_ context.Context, f store.OperationFilter) ([]*models.Operation, error) {
	var out []*models.Operation
	for _, id := range sortedKeys(t.st.operations) {
		op := t.st.operations[id]
		if len(f.Statuses) > 0 && !containsOpStatus(f.Statuses, op.Status) {
			continue
		}
		if !f.CreatedBefore.IsZero() && !op.CreatedAt.Before(f.CreatedBefore) {
			continue
		}
		if f.Unrefunded && op.Refunded() {
			continue
		}
		c := *op
		out = append(out, &c)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func sortedKeys[V any](m map[int64]V) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func containsStatus(list []models.OrderStatus, s models.OrderStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsOpStatus(list []models.OperationStatus, s models.OperationStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
