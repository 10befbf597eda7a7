package models

import "time"

// Product represents a product in the catalog
type Product struct {
	ID        int64      `db:"id" json:"id"`
	Name      string     `db:"name" json:"name"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// ProductOption is the purchasable unit that owns the stock count
type ProductOption struct {
	ID          int64      `db:"id" json:"id"`
	ProductID   int64      `db:"product_id" json:"product_id"`
	ProductName string     `db:"product_name" json:"product_name"`
	Name        string     `db:"name" json:"name"`
	Price       int64      `db:"price" json:"price"`
	Stock       int        `db:"stock" json:"stock"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt   *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// Order represents a customer order
type Order struct {
	ID         int64       `db:"id" json:"id"`
	UserID     int64       `db:"user_id" json:"user_id"`
	Status     OrderStatus `db:"status" json:"status"`
	TotalPrice int64       `db:"total_price" json:"total_price"`
	CreatedAt  time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time   `db:"updated_at" json:"updated_at"`
	DeletedAt  *time.Time  `db:"deleted_at" json:"deleted_at,omitempty"`
}

// TransitionTo moves the order to next when the lifecycle allows it.
func (o *Order) TransitionTo(next OrderStatus) error {
	if !o.Status.CanTransitionTo(next) {
		return &InvalidTransitionError{Entity: "order", ID: o.ID, From: string(o.Status), To: string(next)}
	}
	o.Status = next
	return nil
}

// OrderItem is an immutable price/quantity snapshot taken at order creation
type OrderItem struct {
	ID                int64  `db:"id" json:"id"`
	OrderID           int64  `db:"order_id" json:"order_id"`
	ProductOptionID   int64  `db:"product_option_id" json:"product_option_id"`
	ProductName       string `db:"product_name" json:"product_name"`
	Quantity          int    `db:"quantity" json:"quantity"`
	TotalPriceAtOrder int64  `db:"total_price_at_order" json:"total_price_at_order"`
}

// Payment represents the payment record of an order
type Payment struct {
	ID        int64         `db:"id" json:"id"`
	OrderID   int64         `db:"order_id" json:"order_id"`
	Status    PaymentStatus `db:"status" json:"status"`
	Amount    int64         `db:"amount" json:"amount"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt time.Time     `db:"updated_at" json:"updated_at"`
	DeletedAt *time.Time    `db:"deleted_at" json:"deleted_at,omitempty"`
}

// TransitionTo moves the payment to next when the lifecycle allows it.
func (p *Payment) TransitionTo(next PaymentStatus) error {
	if !p.Status.CanTransitionTo(next) {
		return &InvalidTransitionError{Entity: "payment", ID: p.ID, From: string(p.Status), To: string(next)}
	}
	p.Status = next
	return nil
}

// User holds the spendable balance debited on payment completion
type User struct {
	ID        int64     `db:"id" json:"id"`
	Balance   int64     `db:"balance" json:"balance"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// DailyPopularProduct accumulates units sold per option per calendar day
type DailyPopularProduct struct {
	ID              int64     `db:"id" json:"id"`
	ProductID       int64     `db:"product_id" json:"product_id"`
	ProductOptionID int64     `db:"product_option_id" json:"product_option_id"`
	SoldDate        time.Time `db:"sold_date" json:"sold_date"`
	TotalSold       int64     `db:"total_sold" json:"total_sold"`
}

// LineItem is a requested (product option, quantity) pair
type LineItem struct {
	ProductOptionID int64 `json:"product_option_id"`
	Quantity        int   `json:"quantity"`
}

// OrderResult is the order view returned by the fulfillment saga
type OrderResult struct {
	Order     *Order      `json:"order"`
	Items     []OrderItem `json:"items"`
	PaymentID int64       `json:"payment_id"`
}

// PaymentResult is returned by the payment completion saga
type PaymentResult struct {
	PaymentID     int64         `json:"payment_id"`
	OrderID       int64         `json:"order_id"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	OrderStatus   OrderStatus   `json:"order_status"`
	Amount        int64         `json:"amount"`
}

// PaidInfo is the gateway's authoritative view of a payment
type PaidInfo struct {
	Amount int64 `json:"amount"`
}

// TruncateToDay returns midnight of t in loc.
func TruncateToDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
