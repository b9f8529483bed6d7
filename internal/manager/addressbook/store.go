package addressbook

import (
	"context"
	"errors"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const schema = `
CREATE TABLE IF NOT EXISTS items (
	guid     TEXT PRIMARY KEY,
	name     TEXT NOT NULL,
	address  TEXT NOT NULL,
	position INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS items_position ON items(position);
`

var errNotFound = errors.New("Address book item not found")

// Store persists address book items in SQLite. Order is kept by an
// explicit position column.
type Store struct {
	pool *sqlitex.Pool
}

// OpenStore opens (and creates if needed) the database at path.
func OpenStore(path string) (*Store, error) {
	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize: 2,
		PrepareConn: func(conn *sqlite.Conn) error {
			for _, pragma := range []string{
				"PRAGMA journal_mode=WAL",
				"PRAGMA synchronous=NORMAL",
				"PRAGMA busy_timeout=5000",
			} {
				if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
					return fmt.Errorf("%s: %w", pragma, err)
				}
			}
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("addressbook: open %s: %w", path, err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	return s.pool.Close()
}

func (s *Store) with(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("addressbook: take: %w", err)
	}
	defer s.pool.Put(conn)
	return fn(conn)
}

func scanItem(stmt *sqlite.Stmt) Item {
	return Item{
		GUID:    stmt.ColumnText(0),
		Name:    stmt.ColumnText(1),
		Address: stmt.ColumnText(2),
	}
}

// List returns every item in display order.
func (s *Store) List(ctx context.Context) ([]Item, error) {
	items := []Item{}
	err := s.with(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT guid, name, address FROM items ORDER BY position, rowid", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				items = append(items, scanItem(stmt))
				return nil
			},
		})
	})
	return items, err
}

func (s *Store) find(ctx context.Context, where string, arg any) (*Item, error) {
	var found *Item
	err := s.with(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT guid, name, address FROM items WHERE "+where+" LIMIT 1", &sqlitex.ExecOptions{
			Args: []any{arg},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				item := scanItem(stmt)
				found = &item
				return nil
			},
		})
	})
	return found, err
}

// Get returns the item with guid, or nil.
func (s *Store) Get(ctx context.Context, guid string) (*Item, error) {
	return s.find(ctx, "guid = ?", guid)
}

// FindByAddress matches addresses case-insensitively, or returns nil.
func (s *Store) FindByAddress(ctx context.Context, address string) (*Item, error) {
	return s.find(ctx, "lower(address) = lower(?)", address)
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.with(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT count(*) FROM items", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				n = stmt.ColumnInt(0)
				return nil
			},
		})
	})
	return n, err
}

// Append adds items after the current last position.
func (s *Store) Append(ctx context.Context, items ...Item) error {
	return s.with(ctx, func(conn *sqlite.Conn) (err error) {
		end, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return err
		}
		defer end(&err)

		next := 0
		err = sqlitex.Execute(conn, "SELECT coalesce(max(position) + 1, 0) FROM items", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				next = stmt.ColumnInt(0)
				return nil
			},
		})
		if err != nil {
			return err
		}
		for i, item := range items {
			if err := insert(conn, item, next+i); err != nil {
				return err
			}
		}
		return nil
	})
}

func insert(conn *sqlite.Conn, item Item, position int) error {
	return sqlitex.Execute(conn, "INSERT INTO items (guid, name, address, position) VALUES (?, ?, ?, ?)", &sqlitex.ExecOptions{
		Args: []any{item.GUID, item.Name, item.Address, position},
	})
}

// Update rewrites name and address of an existing item.
func (s *Store) Update(ctx context.Context, item Item) error {
	return s.with(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, "UPDATE items SET name = ?, address = ? WHERE guid = ?", &sqlitex.ExecOptions{
			Args: []any{item.Name, item.Address, item.GUID},
		})
		if err != nil {
			return err
		}
		if conn.Changes() == 0 {
			return errNotFound
		}
		return nil
	})
}

func (s *Store) Delete(ctx context.Context, guid string) error {
	return s.with(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, "DELETE FROM items WHERE guid = ?", &sqlitex.ExecOptions{Args: []any{guid}})
		if err != nil {
			return err
		}
		if conn.Changes() == 0 {
			return errNotFound
		}
		return nil
	})
}

// Replace swaps the whole book for items in one transaction.
func (s *Store) Replace(ctx context.Context, items []Item) error {
	return s.with(ctx, func(conn *sqlite.Conn) (err error) {
		end, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return err
		}
		defer end(&err)

		if err := sqlitex.ExecuteTransient(conn, "DELETE FROM items", nil); err != nil {
			return err
		}
		for i, item := range items {
			if err := insert(conn, item, i); err != nil {
				return err
			}
		}
		return nil
	})
}

// Reorder assigns positions following guids.
func (s *Store) Reorder(ctx context.Context, guids []string) error {
	return s.with(ctx, func(conn *sqlite.Conn) (err error) {
		end, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return err
		}
		defer end(&err)

		for i, guid := range guids {
			err := sqlitex.Execute(conn, "UPDATE items SET position = ? WHERE guid = ?", &sqlitex.ExecOptions{
				Args: []any{i, guid},
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}
