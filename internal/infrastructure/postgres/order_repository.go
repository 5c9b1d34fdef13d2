package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	domcheckout "github.com/Zhima-Mochi/minishop-checkout/internal/domain/checkout"
	domain "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

//go:embed migrations/*.sql
var migrationFiles embed.FS

type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects with lib/pq and verifies the connection.
func Open(ctx context.Context, dsn string, pool PoolConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate applies the embedded schema. Running it on an up-to-date database is a no-op.
func Migrate(db *sql.DB) error {
	driver, err := migratepg.WithInstance(db, &migratepg.Config{
		MigrationsTable: "checkout_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// OrderRepository stores orders and auto-creates a user row for first-time emails.
type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Insert(ctx context.Context, order *domain.Order) (err error) {
	snapshot, err := json.Marshal(order.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	customer, err := json.Marshal(order.Customer)
	if err != nil {
		return fmt.Errorf("marshal customer: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	userID, created, err := ensureUser(ctx, tx, order.Customer)
	if err != nil {
		return err
	}

	const query = `INSERT INTO orders (id, payment_reference, user_id, snapshot, customer, subtotal, delivery_fee,
	          grand_total, status, account_created, paid_at, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err = tx.ExecContext(ctx, query,
		order.ID,
		order.PaymentReference,
		userID,
		snapshot,
		customer,
		order.Subtotal,
		order.DeliveryFee,
		order.GrandTotal,
		string(order.Status),
		created,
		order.PaidAt,
		order.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			err = domain.ErrConflict
			return err
		}
		return fmt.Errorf("insert order: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit order: %w", err)
	}
	order.AccountCreated = created
	return nil
}

func ensureUser(ctx context.Context, tx *sql.Tx, c domcheckout.Customer) (uuid.UUID, bool, error) {
	email := strings.ToLower(strings.TrimSpace(c.Email))

	var id uuid.UUID
	err := tx.QueryRowContext(ctx,
		`INSERT INTO users (id, email, name, phone) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (email) DO NOTHING RETURNING id`,
		uuid.New(), email, c.Name, c.Phone,
	).Scan(&id)
	switch {
	case err == nil:
		return id, true, nil
	case !errors.Is(err, sql.ErrNoRows):
		return uuid.Nil, false, fmt.Errorf("create user: %w", err)
	}

	if err := tx.QueryRowContext(ctx, `SELECT id FROM users WHERE email = $1`, email).Scan(&id); err != nil {
		return uuid.Nil, false, fmt.Errorf("find user: %w", err)
	}
	return id, false, nil
}

const selectOrder = `SELECT id, payment_reference, snapshot, customer, subtotal, delivery_fee, grand_total,
	          status, account_created, paid_at, created_at FROM orders`

func (r *OrderRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	return r.scanOne(ctx, selectOrder+` WHERE id = $1`, id)
}

func (r *OrderRepository) FindByPaymentReference(ctx context.Context, reference string) (*domain.Order, error) {
	if reference == "" {
		return nil, domain.ErrNotFound
	}
	return r.scanOne(ctx, selectOrder+` WHERE payment_reference = $1`, reference)
}

// LookupCustomer returns the contact details of the latest order placed with email.
func (r *OrderRepository) LookupCustomer(ctx context.Context, email string) (domcheckout.Customer, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT o.customer FROM orders o JOIN users u ON u.id = o.user_id
		 WHERE u.email = $1 ORDER BY o.created_at DESC LIMIT 1`,
		strings.ToLower(strings.TrimSpace(email)),
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domcheckout.Customer{}, domain.ErrNotFound
	}
	if err != nil {
		return domcheckout.Customer{}, fmt.Errorf("lookup customer: %w", err)
	}
	var c domcheckout.Customer
	if err := json.Unmarshal(raw, &c); err != nil {
		return domcheckout.Customer{}, fmt.Errorf("unmarshal customer: %w", err)
	}
	return c, nil
}

func (r *OrderRepository) scanOne(ctx context.Context, query string, arg any) (*domain.Order, error) {
	var (
		o                  domain.Order
		snapshot, customer []byte
		status             string
	)
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&o.ID,
		&o.PaymentReference,
		&snapshot,
		&customer,
		&o.Subtotal,
		&o.DeliveryFee,
		&o.GrandTotal,
		&status,
		&o.AccountCreated,
		&o.PaidAt,
		&o.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	if err := json.Unmarshal(snapshot, &o.Snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if err := json.Unmarshal(customer, &o.Customer); err != nil {
		return nil, fmt.Errorf("unmarshal customer: %w", err)
	}
	o.Status = domain.Status(status)
	o.PaidAt = o.PaidAt.UTC()
	o.CreatedAt = o.CreatedAt.UTC()
	return &o, nil
}
