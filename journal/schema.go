package journal

const Schema = `
CREATE TABLE IF NOT EXISTS cycles (
	batch_id TEXT PRIMARY KEY,
	days_count INTEGER NOT NULL,
	started_at DATETIME NOT NULL,
	finished_at DATETIME NOT NULL,
	status TEXT NOT NULL,
	nav REAL NOT NULL,
	note TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
	client_id TEXT PRIMARY KEY,
	batch_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	tranche_id INTEGER NOT NULL,
	delta_shares REAL NOT NULL,
	ref_price REAL NOT NULL,
	venue_order_id TEXT NOT NULL,
	status TEXT NOT NULL,
	filled_shares REAL NOT NULL,
	avg_price REAL NOT NULL,
	error TEXT NOT NULL,
	recorded_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_batch ON orders(batch_id);
CREATE INDEX IF NOT EXISTS idx_cycles_days ON cycles(days_count);
`
