package kb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/evanwires/sidekick/internal/model"
)

// Order statuses recognized by the policy catalog.
const (
	StatusProcessing = "Processing"
	StatusShipped    = "Shipped"
	StatusDelivered  = "Delivered"
	StatusCancelled  = "Cancelled"
)

// Customer is a customer record.
type Customer struct {
	ID    int64
	Name  string
	Email string
}

// Order is an order record joined with its customer name.
type Order struct {
	ID           int64
	Ref          string
	CustomerName string
	Status       string
	TotalCents   int64
	OrderedAt    time.Time
}

// PolicyDoc is a reference document served to the agent console.
type PolicyDoc struct {
	Key   string
	Title string
	Body  string
}

// Store provides read access to the knowledge base.
type Store struct {
	db *sql.DB
}

// NewStore creates a store over an opened knowledge base.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// CustomerByName resolves a customer by name, case-insensitively.
// Returns model.ErrNotFound when no such customer exists.
func (s *Store) CustomerByName(ctx context.Context, name string) (Customer, error) {
	var c Customer
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, email FROM customers WHERE name = ? COLLATE NOCASE`, name).
		Scan(&c.ID, &c.Name, &c.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return Customer{}, fmt.Errorf("customer %q: %w", name, model.ErrNotFound)
	}
	if err != nil {
		return Customer{}, fmt.Errorf("query customer %q: %w", name, err)
	}
	return c, nil
}

// OrderByRef resolves an order by its reference.
// Returns model.ErrNotFound when no such order exists.
func (s *Store) OrderByRef(ctx context.Context, ref string) (Order, error) {
	var o Order
	var orderedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT o.id, o.ref, c.name, o.status, o.total_cents, o.ordered_at
		 FROM orders o JOIN customers c ON c.id = o.customer_id
		 WHERE o.ref = ?`, ref).
		Scan(&o.ID, &o.Ref, &o.CustomerName, &o.Status, &o.TotalCents, &orderedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Order{}, fmt.Errorf("order %q: %w", ref, model.ErrNotFound)
	}
	if err != nil {
		return Order{}, fmt.Errorf("query order %q: %w", ref, err)
	}
	o.OrderedAt, err = time.Parse(time.RFC3339, orderedAt)
	if err != nil {
		return Order{}, fmt.Errorf("parse ordered_at for %q: %w", ref, err)
	}
	return o, nil
}

// OrdersByCustomer lists a customer's orders, newest first.
func (s *Store) OrdersByCustomer(ctx context.Context, name string) ([]Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT o.id, o.ref, c.name, o.status, o.total_cents, o.ordered_at
		 FROM orders o JOIN customers c ON c.id = o.customer_id
		 WHERE c.name = ? COLLATE NOCASE
		 ORDER BY o.ordered_at DESC`, name)
	if err != nil {
		return nil, fmt.Errorf("query orders for %q: %w", name, err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

// ListOrders returns every order, newest first.
func (s *Store) ListOrders(ctx context.Context) ([]Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT o.id, o.ref, c.name, o.status, o.total_cents, o.ordered_at
		 FROM orders o JOIN customers c ON c.id = o.customer_id
		 ORDER BY o.ordered_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

func scanOrders(rows *sql.Rows) ([]Order, error) {
	var out []Order
	for rows.Next() {
		var o Order
		var orderedAt string
		if err := rows.Scan(&o.ID, &o.Ref, &o.CustomerName, &o.Status, &o.TotalCents, &orderedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		at, err := time.Parse(time.RFC3339, orderedAt)
		if err != nil {
			return nil, fmt.Errorf("parse ordered_at: %w", err)
		}
		o.OrderedAt = at
		out = append(out, o)
	}
	return out, rows.Err()
}

// PolicyDocByKey fetches one policy document.
// Returns model.ErrNotFound when the key is unknown.
func (s *Store) PolicyDocByKey(ctx context.Context, key string) (PolicyDoc, error) {
	var d PolicyDoc
	err := s.db.QueryRowContext(ctx,
		`SELECT key, title, body FROM policy_docs WHERE key = ?`, key).
		Scan(&d.Key, &d.Title, &d.Body)
	if errors.Is(err, sql.ErrNoRows) {
		return PolicyDoc{}, fmt.Errorf("policy doc %q: %w", key, model.ErrNotFound)
	}
	if err != nil {
		return PolicyDoc{}, fmt.Errorf("query policy doc %q: %w", key, err)
	}
	return d, nil
}

// ListPolicyDocs returns every policy document ordered by key.
func (s *Store) ListPolicyDocs(ctx context.Context) ([]PolicyDoc, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, title, body FROM policy_docs ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list policy docs: %w", err)
	}
	defer rows.Close()
	var out []PolicyDoc
	for rows.Next() {
		var d PolicyDoc
		if err := rows.Scan(&d.Key, &d.Title, &d.Body); err != nil {
			return nil, fmt.Errorf("scan policy doc: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
