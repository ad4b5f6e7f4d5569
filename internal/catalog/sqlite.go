package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/MeKo-Tech/invocr/internal/invoice"
	_ "github.com/mattn/go-sqlite3"
)

// Store keeps the catalog in a SQLite database for the service.
type Store struct {
	db *sql.DB
}

// OpenStore opens or creates the catalog database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening catalog database: %w", err)
	}
	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			unit_category TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS product_aliases (
			product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
			alias TEXT NOT NULL,
			position INTEGER NOT NULL,
			PRIMARY KEY (product_id, position)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Import replaces the stored catalog with products in one transaction.
func (s *Store) Import(ctx context.Context, products []invoice.CatalogProduct) error {
	if err := Validate(products); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin import: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM products`); err != nil {
		return fmt.Errorf("clearing products: %w", err)
	}
	for _, p := range products {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO products (id, name, unit_category) VALUES (?, ?, ?)`,
			p.ID, p.Name, p.UnitCategory,
		); err != nil {
			return fmt.Errorf("inserting product %s: %w", p.ID, err)
		}
		for i, alias := range p.Aliases {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO product_aliases (product_id, alias, position) VALUES (?, ?, ?)`,
				p.ID, alias, i,
			); err != nil {
				return fmt.Errorf("inserting alias for %s: %w", p.ID, err)
			}
		}
	}
	return tx.Commit()
}

// Load implements Source.
func (s *Store) Load(ctx context.Context) ([]invoice.CatalogProduct, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, unit_category FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying products: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var products []invoice.CatalogProduct
	index := make(map[string]int)
	for rows.Next() {
		var p invoice.CatalogProduct
		if err := rows.Scan(&p.ID, &p.Name, &p.UnitCategory); err != nil {
			return nil, fmt.Errorf("scanning product: %w", err)
		}
		index[p.ID] = len(products)
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating products: %w", err)
	}

	aliasRows, err := s.db.QueryContext(ctx,
		`SELECT product_id, alias FROM product_aliases ORDER BY product_id, position`)
	if err != nil {
		return nil, fmt.Errorf("querying aliases: %w", err)
	}
	defer func() { _ = aliasRows.Close() }()

	for aliasRows.Next() {
		var id, alias string
		if err := aliasRows.Scan(&id, &alias); err != nil {
			return nil, fmt.Errorf("scanning alias: %w", err)
		}
		if i, ok := index[id]; ok {
			products[i].Aliases = append(products[i].Aliases, alias)
		}
	}
	return products, aliasRows.Err()
}
