package kb

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type seedCustomer struct {
	name   string
	email  string
	orders []seedOrder
}

type seedOrder struct {
	ref        string
	status     string
	totalCents int64
	ageDays    int
}

type seedDoc struct {
	key   string
	title string
	body  string
}

var seedCustomers = []seedCustomer{
	{
		name:  "Jane Smith",
		email: "jane.smith@example.com",
		orders: []seedOrder{
			{ref: "ORDER-12345", status: StatusShipped, totalCents: 8999, ageDays: 5},
			{ref: "ORDER-11111", status: StatusDelivered, totalCents: 4550, ageDays: 45},
		},
	},
	{
		name:  "John Doe",
		email: "john.doe@example.com",
		orders: []seedOrder{
			{ref: "ORDER-67890", status: StatusProcessing, totalCents: 12900, ageDays: 2},
			{ref: "ORDER-22222", status: StatusCancelled, totalCents: 1999, ageDays: 10},
		},
	},
}

var seedDocs = []seedDoc{
	{
		key:   "return_policy",
		title: "Return Policy",
		body:  "Items may be returned within 30 days of the order date for a full refund. Items must be unused and in original packaging. Refunds are issued to the original payment method within 5 business days.",
	},
	{
		key:   "shipping_info",
		title: "Shipping Information",
		body:  "Standard shipping takes 5 to 7 business days. Expedited shipping takes 2 to 3 business days. Orders ship once they leave Processing status and tracking is emailed at dispatch.",
	},
	{
		key:   "refund_policy",
		title: "Refund Policy",
		body:  "Refunds require a completed order that has not been cancelled. Cancellations are only possible while an order is still Processing. Shipped orders must go through the return process instead.",
	},
}

// Seed populates the knowledge base with the demo dataset. It is
// idempotent so repeated seeding leaves one copy of each record.
func Seed(ctx context.Context, db *sql.DB) error {
	now := time.Now().UTC()
	tx, err := db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin seed: %w", err)
	}
	for _, c := range seedCustomers {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO customers(name, email, created_at) VALUES(?, ?, ?)
			 ON CONFLICT(name) DO UPDATE SET email = excluded.email`,
			c.name, c.email, now.Format(time.RFC3339)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("seed customer %q: %w", c.name, err)
		}
		var id int64
		if err := tx.QueryRowContext(ctx,
			`SELECT id FROM customers WHERE name = ? COLLATE NOCASE`, c.name).Scan(&id); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("resolve customer %q: %w", c.name, err)
		}
		for _, o := range c.orders {
			orderedAt := now.AddDate(0, 0, -o.ageDays).Format(time.RFC3339)
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO orders(ref, customer_id, status, total_cents, ordered_at) VALUES(?, ?, ?, ?, ?)
				 ON CONFLICT(ref) DO UPDATE SET status = excluded.status, total_cents = excluded.total_cents`,
				o.ref, id, o.status, o.totalCents, orderedAt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("seed order %q: %w", o.ref, err)
			}
		}
	}
	for _, d := range seedDocs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO policy_docs(key, title, body, updated_at) VALUES(?, ?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET title = excluded.title, body = excluded.body, updated_at = excluded.updated_at`,
			d.key, d.title, d.body, now.Format(time.RFC3339)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("seed policy doc %q: %w", d.key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed: %w", err)
	}
	return nil
}
