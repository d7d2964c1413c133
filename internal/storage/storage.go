package storage

import (
	"database/sql"
	"time"

	"spread-grid-bot-go/internal/models"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite" // Import the pure-go sqlite driver
)

// InitDB initializes the database connection and creates necessary tables.
func InitDB(dataSourceName string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	// 单写入者；同时保证 :memory: 数据库只有一个连接
	db.SetMaxOpenConns(1)

	if err = db.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	if err = createTables(db); err != nil {
		return nil, errors.Wrap(err, "failed to create tables")
	}

	return db, nil
}

// createTables creates the necessary database tables if they don't exist.
func createTables(db *sql.DB) error {
	// Orders table keeps every terminal leg order for postmortem analysis.
	// It is write-only from the strategy's point of view; the tracker stays authoritative.
	createOrdersTableSQL := `
	CREATE TABLE IF NOT EXISTS orders (
		order_id TEXT PRIMARY KEY,
		grid_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		leg TEXT NOT NULL,
		direction TEXT NOT NULL,
		offset_flag TEXT NOT NULL,
		kind TEXT NOT NULL,
		price REAL NOT NULL,
		volume REAL NOT NULL,
		traded REAL NOT NULL,
		retry_count INTEGER NOT NULL,
		status TEXT NOT NULL,
		reason TEXT NOT NULL,
		submitted_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL
	);`
	if _, err := db.Exec(createOrdersTableSQL); err != nil {
		return err
	}

	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_orders_grid ON orders (grid_id);`)
	return err
}

// JournalEntry is one row of the orders table.
type JournalEntry struct {
	models.OrderRecord
	Reason     string
	FinishedAt time.Time
}

// Journal 订单历史日志
type Journal struct {
	db *sql.DB
}

// NewJournal wraps an initialized database.
func NewJournal(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// OpenJournal initializes the database and returns a journal on top of it.
func OpenJournal(dataSourceName string) (*Journal, error) {
	db, err := InitDB(dataSourceName)
	if err != nil {
		return nil, err
	}
	return NewJournal(db), nil
}

// RecordOrder inserts or replaces the final state of an order.
func (j *Journal) RecordOrder(rec *models.OrderRecord, reason string) error {
	query := `
	INSERT OR REPLACE INTO orders (order_id, grid_id, symbol, leg, direction, offset_flag, kind, price, volume, traded, retry_count, status, reason, submitted_at, finished_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := j.db.Exec(query,
		rec.OrderID, rec.GridID, rec.Symbol, string(rec.Leg), string(rec.Direction), string(rec.Offset),
		string(rec.Kind), rec.Price, rec.Volume, rec.Traded, rec.RetryCount, string(rec.Status), reason,
		rec.SubmitTime.UnixMilli(), time.Now().UnixMilli(),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to insert order %s", rec.OrderID)
	}
	return nil
}

// OrdersForGrid retrieves the journal of one grid ordered by submission time.
func (j *Journal) OrdersForGrid(gridID string) ([]JournalEntry, error) {
	query := `
	SELECT order_id, grid_id, symbol, leg, direction, offset_flag, kind, price, volume, traded, retry_count, status, reason, submitted_at, finished_at
	FROM orders
	WHERE grid_id = ?
	ORDER BY submitted_at, order_id`

	rows, err := j.db.Query(query, gridID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query orders")
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var e JournalEntry
		var leg, direction, offset, kind, status string
		var submitted, finished int64
		if err := rows.Scan(
			&e.OrderID, &e.GridID, &e.Symbol, &leg, &direction, &offset, &kind,
			&e.Price, &e.Volume, &e.Traded, &e.RetryCount, &status, &e.Reason, &submitted, &finished,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan order row")
		}
		e.Leg = models.Leg(leg)
		e.Direction = models.Direction(direction)
		e.Offset = models.Offset(offset)
		e.Kind = models.OrderKind(kind)
		e.Status = models.OrderStatus(status)
		e.SubmitTime = time.UnixMilli(submitted)
		e.FinishedAt = time.UnixMilli(finished)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}
