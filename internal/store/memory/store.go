// Package memory is an in-process implementation of the persistence stores,
// used by tests and by local runs without PostgreSQL.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/txn"
)

type salesKey struct {
	productID int64
	optionID  int64
	day       int64
}

type Store struct {
	txSem chan struct{}

	mu       sync.Mutex
	seq      int64
	products map[int64]*models.Product
	options  map[int64]*models.ProductOption
	orders   map[int64]*models.Order
	items    map[int64][]models.OrderItem
	payments map[int64]*models.Payment
	users    map[int64]*models.User
	sales    map[int64]*models.DailyPopularProduct
	salesIdx map[salesKey]int64

	faultMu sync.Mutex
	faults  map[string]error

	now func() time.Time
}

func NewStore() *Store {
	return &Store{
		txSem:    make(chan struct{}, 1),
		products: make(map[int64]*models.Product),
		options:  make(map[int64]*models.ProductOption),
		orders:   make(map[int64]*models.Order),
		items:    make(map[int64][]models.OrderItem),
		payments: make(map[int64]*models.Payment),
		users:    make(map[int64]*models.User),
		sales:    make(map[int64]*models.DailyPopularProduct),
		salesIdx: make(map[salesKey]int64),
		faults:   make(map[string]error),
		now:      time.Now,
	}
}

// InjectFault makes every later call of the named method fail with err until
// ClearFaults is called.
func (s *Store) InjectFault(method string, err error) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	s.faults[method] = err
}

func (s *Store) ClearFaults() {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	s.faults = make(map[string]error)
}

func (s *Store) fault(method string) error {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	return s.faults[method]
}

func (s *Store) Ping(ctx context.Context) error {
	return s.fault("Ping")
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) nextID() int64 {
	s.seq++
	return s.seq
}

// catalog

func (s *Store) CreateProduct(ctx context.Context, tx txn.Tx, product *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, err := s.use(tx)
	if err != nil {
		return err
	}

	product.ID = s.nextID()
	product.CreatedAt = s.now()
	clone := *product
	s.products[product.ID] = &clone
	record(func() { delete(s.products, clone.ID) })
	return nil
}

func (s *Store) CreateOption(ctx context.Context, tx txn.Tx, option *models.ProductOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, err := s.use(tx)
	if err != nil {
		return err
	}
	if _, ok := s.products[option.ProductID]; !ok {
		return models.NewNotFoundError("product", option.ProductID, models.ErrProductNotFound)
	}

	option.ID = s.nextID()
	option.UpdatedAt = s.now()
	clone := *option
	s.options[option.ID] = &clone
	record(func() { delete(s.options, clone.ID) })
	return nil
}

func (s *Store) CreateUser(ctx context.Context, tx txn.Tx, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, err := s.use(tx)
	if err != nil {
		return err
	}

	user.ID = s.nextID()
	user.UpdatedAt = s.now()
	clone := *user
	s.users[user.ID] = &clone
	record(func() { delete(s.users, clone.ID) })
	return nil
}

func (s *Store) GetUser(ctx context.Context, tx txn.Tx, id int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.use(tx); err != nil {
		return nil, err
	}
	user, ok := s.users[id]
	if !ok {
		return nil, models.NewNotFoundError("user", id, models.ErrUserNotFound)
	}
	clone := *user
	return &clone, nil
}

// inventory

func (s *Store) GetOption(ctx context.Context, tx txn.Tx, id int64) (*models.ProductOption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("GetOption"); err != nil {
		return nil, err
	}
	if _, err := s.use(tx); err != nil {
		return nil, err
	}
	return s.optionView(id)
}

// GetOptionForUpdate needs no row lock here: transactions are already serialized.
func (s *Store) GetOptionForUpdate(ctx context.Context, tx txn.Tx, id int64) (*models.ProductOption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("GetOptionForUpdate"); err != nil {
		return nil, err
	}
	if _, err := s.use(tx); err != nil {
		return nil, err
	}
	return s.optionView(id)
}

func (s *Store) optionView(id int64) (*models.ProductOption, error) {
	option, ok := s.options[id]
	if !ok || option.DeletedAt != nil {
		return nil, models.NewNotFoundError("product option", id, models.ErrProductOptionNotFound)
	}
	clone := *option
	if product, ok := s.products[option.ProductID]; ok {
		clone.ProductName = product.Name
	}
	return &clone, nil
}

func (s *Store) DecrementStock(ctx context.Context, tx txn.Tx, id int64, quantity int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("DecrementStock"); err != nil {
		return 0, err
	}
	record, err := s.use(tx)
	if err != nil {
		return 0, err
	}

	option, ok := s.options[id]
	if !ok || option.DeletedAt != nil {
		return 0, models.NewNotFoundError("product option", id, models.ErrProductOptionNotFound)
	}
	if option.Stock < quantity {
		return 0, &models.InsufficientStockError{OptionID: id, Requested: quantity, Available: option.Stock}
	}

	option.Stock -= quantity
	option.UpdatedAt = s.now()
	record(func() { option.Stock += quantity })
	return option.Stock, nil
}

func (s *Store) IncrementStock(ctx context.Context, tx txn.Tx, id int64, quantity int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("IncrementStock"); err != nil {
		return 0, err
	}
	record, err := s.use(tx)
	if err != nil {
		return 0, err
	}

	option, ok := s.options[id]
	if !ok || option.DeletedAt != nil {
		return 0, models.NewNotFoundError("product option", id, models.ErrProductOptionNotFound)
	}

	option.Stock += quantity
	option.UpdatedAt = s.now()
	record(func() { option.Stock -= quantity })
	return option.Stock, nil
}

// orders

func (s *Store) CreateOrder(ctx context.Context, tx txn.Tx, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("CreateOrder"); err != nil {
		return err
	}
	record, err := s.use(tx)
	if err != nil {
		return err
	}

	now := s.now()
	order.ID = s.nextID()
	order.CreatedAt = now
	order.UpdatedAt = now
	clone := *order
	s.orders[order.ID] = &clone
	record(func() { delete(s.orders, clone.ID) })
	return nil
}

func (s *Store) GetOrder(ctx context.Context, tx txn.Tx, id int64) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("GetOrder"); err != nil {
		return nil, err
	}
	if _, err := s.use(tx); err != nil {
		return nil, err
	}
	return s.orderView(id)
}

func (s *Store) GetOrderForUpdate(ctx context.Context, tx txn.Tx, id int64) (*models.Order, error) {
	return s.GetOrder(ctx, tx, id)
}

func (s *Store) orderView(id int64) (*models.Order, error) {
	order, ok := s.orders[id]
	if !ok || order.DeletedAt != nil {
		return nil, models.NewNotFoundError("order", id, models.ErrOrderNotFound)
	}
	clone := *order
	return &clone, nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, tx txn.Tx, orderID int64, status models.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("UpdateOrderStatus"); err != nil {
		return err
	}
	record, err := s.use(tx)
	if err != nil {
		return err
	}

	order, ok := s.orders[orderID]
	if !ok || order.DeletedAt != nil {
		return models.NewNotFoundError("order", orderID, models.ErrOrderNotFound)
	}
	prev, prevUpdated := order.Status, order.UpdatedAt
	order.Status = status
	order.UpdatedAt = s.now()
	record(func() {
		order.Status = prev
		order.UpdatedAt = prevUpdated
	})
	return nil
}

// DeleteOrder soft-deletes an order
func (s *Store) DeleteOrder(ctx context.Context, tx txn.Tx, orderID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, err := s.use(tx)
	if err != nil {
		return err
	}

	order, ok := s.orders[orderID]
	if !ok {
		return models.NewNotFoundError("order", orderID, models.ErrOrderNotFound)
	}
	deletedAt := s.now()
	order.DeletedAt = &deletedAt
	record(func() { order.DeletedAt = nil })
	return nil
}

func (s *Store) CreateOrderItems(ctx context.Context, tx txn.Tx, items []models.OrderItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("CreateOrderItems"); err != nil {
		return err
	}
	record, err := s.use(tx)
	if err != nil {
		return err
	}

	for i := range items {
		items[i].ID = s.nextID()
		orderID := items[i].OrderID
		prev := s.items[orderID]
		s.items[orderID] = append(prev[:len(prev):len(prev)], items[i])
		record(func() {
			if len(prev) == 0 {
				delete(s.items, orderID)
				return
			}
			s.items[orderID] = prev
		})
	}
	return nil
}

func (s *Store) GetOrderItems(ctx context.Context, tx txn.Tx, orderID int64) ([]models.OrderItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("GetOrderItems"); err != nil {
		return nil, err
	}
	if _, err := s.use(tx); err != nil {
		return nil, err
	}
	return append([]models.OrderItem{}, s.items[orderID]...), nil
}

// payments

func (s *Store) CreatePayment(ctx context.Context, tx txn.Tx, payment *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("CreatePayment"); err != nil {
		return err
	}
	record, err := s.use(tx)
	if err != nil {
		return err
	}

	now := s.now()
	payment.ID = s.nextID()
	payment.CreatedAt = now
	payment.UpdatedAt = now
	clone := *payment
	s.payments[payment.ID] = &clone
	record(func() { delete(s.payments, clone.ID) })
	return nil
}

func (s *Store) GetPayment(ctx context.Context, tx txn.Tx, id int64) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("GetPayment"); err != nil {
		return nil, err
	}
	if _, err := s.use(tx); err != nil {
		return nil, err
	}

	payment, ok := s.payments[id]
	if !ok || payment.DeletedAt != nil {
		return nil, models.NewNotFoundError("payment", id, models.ErrPaymentNotFound)
	}
	clone := *payment
	return &clone, nil
}

func (s *Store) GetPaymentForUpdate(ctx context.Context, tx txn.Tx, id int64) (*models.Payment, error) {
	return s.GetPayment(ctx, tx, id)
}

func (s *Store) GetPaymentByOrderID(ctx context.Context, tx txn.Tx, orderID int64) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.use(tx); err != nil {
		return nil, err
	}

	var latest *models.Payment
	for _, payment := range s.payments {
		if payment.OrderID != orderID || payment.DeletedAt != nil {
			continue
		}
		if latest == nil || payment.ID > latest.ID {
			latest = payment
		}
	}
	if latest == nil {
		return nil, models.NewNotFoundError("payment for order", orderID, models.ErrPaymentNotFound)
	}
	clone := *latest
	return &clone, nil
}

func (s *Store) UpdatePaymentStatus(ctx context.Context, tx txn.Tx, paymentID int64, status models.PaymentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("UpdatePaymentStatus"); err != nil {
		return err
	}
	record, err := s.use(tx)
	if err != nil {
		return err
	}

	payment, ok := s.payments[paymentID]
	if !ok || payment.DeletedAt != nil {
		return models.NewNotFoundError("payment", paymentID, models.ErrPaymentNotFound)
	}
	prev, prevUpdated := payment.Status, payment.UpdatedAt
	payment.Status = status
	payment.UpdatedAt = s.now()
	record(func() {
		payment.Status = prev
		payment.UpdatedAt = prevUpdated
	})
	return nil
}

// balances

func (s *Store) DebitBalance(ctx context.Context, tx txn.Tx, userID, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("DebitBalance"); err != nil {
		return 0, err
	}
	record, err := s.use(tx)
	if err != nil {
		return 0, err
	}

	user, ok := s.users[userID]
	if !ok {
		return 0, models.NewNotFoundError("user", userID, models.ErrUserNotFound)
	}
	if user.Balance < amount {
		return 0, &models.InsufficientBalanceError{UserID: userID, Required: amount, Available: user.Balance}
	}

	user.Balance -= amount
	user.UpdatedAt = s.now()
	record(func() { user.Balance += amount })
	return user.Balance, nil
}

// sales

func (s *Store) FindDailySalesForUpdate(ctx context.Context, tx txn.Tx, productID, optionID int64, day time.Time) (*models.DailyPopularProduct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("FindDailySalesForUpdate"); err != nil {
		return nil, err
	}
	if _, err := s.use(tx); err != nil {
		return nil, err
	}

	id, ok := s.salesIdx[salesKey{productID, optionID, day.Unix()}]
	if !ok {
		return nil, nil
	}
	clone := *s.sales[id]
	return &clone, nil
}

func (s *Store) CreateDailySales(ctx context.Context, tx txn.Tx, row *models.DailyPopularProduct) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("CreateDailySales"); err != nil {
		return err
	}
	record, err := s.use(tx)
	if err != nil {
		return err
	}

	key := salesKey{row.ProductID, row.ProductOptionID, row.SoldDate.Unix()}
	if id, ok := s.salesIdx[key]; ok {
		existing := s.sales[id]
		quantity := row.TotalSold
		existing.TotalSold += quantity
		record(func() { existing.TotalSold -= quantity })
		row.ID = existing.ID
		row.TotalSold = existing.TotalSold
		return nil
	}

	row.ID = s.nextID()
	clone := *row
	s.sales[row.ID] = &clone
	s.salesIdx[key] = row.ID
	record(func() {
		delete(s.sales, clone.ID)
		delete(s.salesIdx, key)
	})
	return nil
}

func (s *Store) IncreaseDailySales(ctx context.Context, tx txn.Tx, id int64, quantity int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("IncreaseDailySales"); err != nil {
		return 0, err
	}
	record, err := s.use(tx)
	if err != nil {
		return 0, err
	}

	row, ok := s.sales[id]
	if !ok {
		return 0, models.NewNotFoundError("daily sales", id, models.ErrProductNotFound)
	}
	row.TotalSold += quantity
	record(func() { row.TotalSold -= quantity })
	return row.TotalSold, nil
}

func (s *Store) ListDailySales(ctx context.Context, tx txn.Tx, day time.Time) ([]models.DailyPopularProduct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.use(tx); err != nil {
		return nil, err
	}

	rows := []models.DailyPopularProduct{}
	for _, row := range s.sales {
		if row.SoldDate.Equal(day) {
			rows = append(rows, *row)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].TotalSold != rows[j].TotalSold {
			return rows[i].TotalSold > rows[j].TotalSold
		}
		return rows[i].ID < rows[j].ID
	})
	return rows, nil
}
