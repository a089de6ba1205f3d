package journal

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) RecordCycle(c CycleRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO cycles
		(batch_id, days_count, started_at, finished_at, status, nav, note)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.BatchID, c.DaysCount, c.StartedAt, c.FinishedAt, c.Status, c.NAV, c.Note,
	)
	return err
}

func (j *SQLite) RecordOrder(o OrderRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO orders
		(client_id, batch_id, symbol, tranche_id, delta_shares, ref_price,
		 venue_order_id, status, filled_shares, avg_price, error, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ClientID, o.BatchID, o.Symbol, o.TrancheID, o.DeltaShares, o.RefPrice,
		o.VenueOrderID, o.Status, o.FilledShares, o.AvgPrice, o.Error, o.RecordedAt,
	)
	return err
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
