package shopassist

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
)

// SQLCatalog is a database/sql CatalogStore with products left-joined to their categories.
// It serves SQLite (LIKE) and Postgres (ILIKE).
type SQLCatalog struct {
	db      *sql.DB
	dialect sqlDialect
	mu      sync.Mutex
	logger  Logger
}

var sqliteCatalogSchema = []string{
	`CREATE TABLE IF NOT EXISTS categories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	);`,
	`CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		price REAL NOT NULL DEFAULT 0,
		category_id INTEGER REFERENCES categories (id)
	);`,
}

var postgresCatalogSchema = []string{
	`CREATE TABLE IF NOT EXISTS categories (
		id SERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	);`,
	`CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		price DOUBLE PRECISION NOT NULL DEFAULT 0,
		category_id INTEGER REFERENCES categories (id)
	);`,
}

const catalogSelect = `SELECT p.id, p.name, p.description, p.price, COALESCE(c.name, '')
	FROM products p LEFT JOIN categories c ON c.id = p.category_id`

// NewSQLiteCatalog creates the catalog tables if needed. db must use the "sqlite3" driver.
func NewSQLiteCatalog(db *sql.DB, logger Logger) (*SQLCatalog, error) {
	return newSQLCatalog(context.Background(), db, sqliteDialect, sqliteCatalogSchema, logger)
}

// NewPostgresCatalog creates the catalog tables if needed. db must use the "postgres" driver.
func NewPostgresCatalog(ctx context.Context, db *sql.DB, logger Logger) (*SQLCatalog, error) {
	return newSQLCatalog(ctx, db, postgresDialect, postgresCatalogSchema, logger)
}

func newSQLCatalog(ctx context.Context, db *sql.DB, dialect sqlDialect, schema []string, logger Logger) (*SQLCatalog, error) {
	if logger == nil {
		logger = NewNullLogger()
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction for catalog schema: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to apply catalog schema: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit catalog schema: %w", err)
	}

	return &SQLCatalog{db: db, dialect: dialect, logger: logger}, nil
}

// Upsert inserts or replaces products, creating their categories on demand.
func (c *SQLCatalog) Upsert(ctx context.Context, products ...Product) error {
	if c.dialect.serialize {
		c.mu.Lock()
		defer c.mu.Unlock()
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for product upsert: %w", err)
	}
	defer tx.Rollback()

	categoryIDs := make(map[string]int64)
	for _, p := range products {
		var categoryID sql.NullInt64
		if name := strings.TrimSpace(p.Category); name != "" {
			id, ok := categoryIDs[name]
			if !ok {
				id, err = c.ensureCategory(ctx, tx, name)
				if err != nil {
					return err
				}
				categoryIDs[name] = id
			}
			categoryID = sql.NullInt64{Int64: id, Valid: true}
		}

		_, err := tx.ExecContext(ctx, c.dialect.rebind(`
		INSERT INTO products (id, name, description, price, category_id) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			price = excluded.price,
			category_id = excluded.category_id`),
			p.ID, p.Name, p.Description, p.Price, categoryID)
		if err != nil {
			return fmt.Errorf("failed to upsert product %s: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit product upsert: %w", err)
	}

	c.logger.WithFields(map[string]interface{}{"count": len(products)}).Info("Catalog products upserted")
	return nil
}

func (c *SQLCatalog) ensureCategory(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	if _, err := tx.ExecContext(ctx, c.dialect.rebind(
		`INSERT INTO categories (name) VALUES (?) ON CONFLICT (name) DO NOTHING`), name); err != nil {
		return 0, fmt.Errorf("failed to insert category %q: %w", name, err)
	}

	var id int64
	if err := tx.QueryRowContext(ctx, c.dialect.rebind(`SELECT id FROM categories WHERE name = ?`), name).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to look up category %q: %w", name, err)
	}
	return id, nil
}

// SearchByText returns products whose name or description contains query, case-insensitively.
func (c *SQLCatalog) SearchByText(ctx context.Context, query string) ([]Product, error) {
	pattern := likePattern(query)
	where := fmt.Sprintf(`p.name %[1]s ? ESCAPE '\' OR p.description %[1]s ? ESCAPE '\'`, c.dialect.likeOp)
	return c.query(ctx, where, pattern, pattern)
}

// SearchByCategory returns products whose category name contains query, case-insensitively.
func (c *SQLCatalog) SearchByCategory(ctx context.Context, query string) ([]Product, error) {
	where := fmt.Sprintf(`c.name %s ? ESCAPE '\'`, c.dialect.likeOp)
	return c.query(ctx, where, likePattern(query))
}

func (c *SQLCatalog) query(ctx context.Context, where string, args ...interface{}) ([]Product, error) {
	rows, err := c.db.QueryContext(ctx, c.dialect.rebind(catalogSelect+` WHERE `+where+` ORDER BY p.name, p.id`), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	products := []Product{}
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Category); err != nil {
			return nil, fmt.Errorf("failed to scan product row: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating product rows: %w", err)
	}
	return products, nil
}

// Close closes the database connection
func (c *SQLCatalog) Close() error {
	return c.db.Close()
}
