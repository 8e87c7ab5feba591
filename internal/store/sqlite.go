package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"flowscope/internal/flow"
	"flowscope/internal/occ"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ TradeStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	contract_symbol      TEXT    NOT NULL,
	underlying           TEXT    NOT NULL,
	expiry               TEXT    NOT NULL,
	side                 TEXT    NOT NULL,
	strike               REAL    NOT NULL,
	price                REAL    NOT NULL,
	size                 INTEGER NOT NULL,
	premium              REAL    NOT NULL,
	exchange             INTEGER NOT NULL,
	condition_codes      TEXT    NOT NULL DEFAULT '[]',
	trade_type           TEXT    NOT NULL,
	execution_level      TEXT    NOT NULL,
	priority             INTEGER NOT NULL,
	highlight            INTEGER NOT NULL DEFAULT 0,
	urgency_score        INTEGER NOT NULL DEFAULT 0,
	urgency_level        TEXT    NOT NULL DEFAULT '',
	flow_direction       TEXT    NOT NULL,
	sweep_id             TEXT    NOT NULL DEFAULT '',
	sweep_size           INTEGER NOT NULL DEFAULT 0,
	sweep_exchange_count INTEGER NOT NULL DEFAULT 0,
	is_block             INTEGER NOT NULL DEFAULT 0,
	block_reason         TEXT    NOT NULL DEFAULT '',
	spot_price           REAL    NOT NULL DEFAULT 0,
	percent_otm          REAL    NOT NULL DEFAULT 0,
	timestamp            INTEGER NOT NULL,
	sequence             INTEGER NOT NULL,
	trade_date           TEXT    NOT NULL,
	UNIQUE (contract_symbol, sequence)
);
CREATE INDEX IF NOT EXISTS idx_trades_date ON trades (trade_date);
CREATE INDEX IF NOT EXISTS idx_trades_ts   ON trades (timestamp);

CREATE TABLE IF NOT EXISTS daily_aggregates (
	date           TEXT PRIMARY KEY,
	total_trades   INTEGER NOT NULL DEFAULT 0,
	total_premium  REAL    NOT NULL DEFAULT 0,
	call_count     INTEGER NOT NULL DEFAULT 0,
	call_premium   REAL    NOT NULL DEFAULT 0,
	put_count      INTEGER NOT NULL DEFAULT 0,
	put_premium    REAL    NOT NULL DEFAULT 0,
	sweep_count    INTEGER NOT NULL DEFAULT 0,
	sweep_premium  REAL    NOT NULL DEFAULT 0,
	block_count    INTEGER NOT NULL DEFAULT 0,
	block_premium  REAL    NOT NULL DEFAULT 0,
	p1_count       INTEGER NOT NULL DEFAULT 0,
	p1_premium     REAL    NOT NULL DEFAULT 0,
	p2_count       INTEGER NOT NULL DEFAULT 0,
	p2_premium     REAL    NOT NULL DEFAULT 0,
	p3_count       INTEGER NOT NULL DEFAULT 0,
	p3_premium     REAL    NOT NULL DEFAULT 0,
	p4_count       INTEGER NOT NULL DEFAULT 0,
	p4_premium     REAL    NOT NULL DEFAULT 0
);
`

// SQLiteStore implements TradeStore backed by a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	loc *time.Location // trade dates are bucketed in this zone
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and prepares
// the schema. Trade dates are computed in loc.
func NewSQLiteStore(dbPath string, loc *time.Location) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// Single writer; WAL keeps readers unblocked during inserts.
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &SQLiteStore{db: db, loc: loc}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Writes
// ---------------------------------------------------------------------------

// InsertTrade upserts one classified trade and, when the row is new, bumps
// the daily aggregate counters in the same transaction. Duplicate
// (contract_symbol, sequence) pairs are dropped by the unique index.
func (s *SQLiteStore) InsertTrade(ctx context.Context, t *flow.ClassifiedTrade) (bool, error) {
	conds, err := json.Marshal(t.Conditions)
	if err != nil {
		return false, fmt.Errorf("encoding conditions: %w", err)
	}
	date := time.UnixMilli(t.Timestamp).In(s.loc).Format("2006-01-02")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO trades (
			contract_symbol, underlying, expiry, side, strike,
			price, size, premium, exchange, condition_codes,
			trade_type, execution_level, priority, highlight,
			urgency_score, urgency_level, flow_direction,
			sweep_id, sweep_size, sweep_exchange_count,
			is_block, block_reason, spot_price, percent_otm,
			timestamp, sequence, trade_date
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (contract_symbol, sequence) DO NOTHING`,
		t.Symbol, t.Contract.Underlying, t.Contract.Expiry.Format("2006-01-02"),
		string(t.Contract.Side), t.Contract.Strike,
		t.Price, t.Size, t.Premium, t.Exchange, string(conds),
		string(t.Type), string(t.ExecutionLevel), t.Priority, t.Highlight,
		t.Urgency.Score, t.Urgency.Level, string(t.Direction),
		t.SweepID, t.SweepSize, t.SweepExchangeCount,
		t.IsBlock, string(t.BlockReason), t.SpotPrice, t.PercentOTM,
		t.Timestamp, t.Sequence, date,
	)
	if err != nil {
		return false, fmt.Errorf("inserting trade: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, tx.Commit()
	}

	if err := s.bumpAggregates(ctx, tx, t, date); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// bumpAggregates applies one trade's deltas to its date row atomically.
func (s *SQLiteStore) bumpAggregates(ctx context.Context, tx *sql.Tx, t *flow.ClassifiedTrade, date string) error {
	var callN, putN int64
	var callP, putP float64
	if t.Contract.Side == occ.Call {
		callN, callP = 1, t.Premium
	} else {
		putN, putP = 1, t.Premium
	}
	var sweepN, blockN int64
	var sweepP, blockP float64
	switch t.Type {
	case flow.TypeSweep:
		sweepN, sweepP = 1, t.Premium
	case flow.TypeBlock:
		blockN, blockP = 1, t.Premium
	}
	var prioN [4]int64
	var prioP [4]float64
	if t.Priority >= 1 && t.Priority <= 4 {
		prioN[t.Priority-1] = 1
		prioP[t.Priority-1] = t.Premium
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO daily_aggregates (
			date, total_trades, total_premium,
			call_count, call_premium, put_count, put_premium,
			sweep_count, sweep_premium, block_count, block_premium,
			p1_count, p1_premium, p2_count, p2_premium,
			p3_count, p3_premium, p4_count, p4_premium
		) VALUES (?,1,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (date) DO UPDATE SET
			total_trades  = total_trades  + 1,
			total_premium = total_premium + excluded.total_premium,
			call_count    = call_count    + excluded.call_count,
			call_premium  = call_premium  + excluded.call_premium,
			put_count     = put_count     + excluded.put_count,
			put_premium   = put_premium   + excluded.put_premium,
			sweep_count   = sweep_count   + excluded.sweep_count,
			sweep_premium = sweep_premium + excluded.sweep_premium,
			block_count   = block_count   + excluded.block_count,
			block_premium = block_premium + excluded.block_premium,
			p1_count      = p1_count      + excluded.p1_count,
			p1_premium    = p1_premium    + excluded.p1_premium,
			p2_count      = p2_count      + excluded.p2_count,
			p2_premium    = p2_premium    + excluded.p2_premium,
			p3_count      = p3_count      + excluded.p3_count,
			p3_premium    = p3_premium    + excluded.p3_premium,
			p4_count      = p4_count      + excluded.p4_count,
			p4_premium    = p4_premium    + excluded.p4_premium`,
		date, t.Premium,
		callN, callP, putN, putP,
		sweepN, sweepP, blockN, blockP,
		prioN[0], prioP[0], prioN[1], prioP[1],
		prioN[2], prioP[2], prioN[3], prioP[3],
	)
	if err != nil {
		return fmt.Errorf("updating aggregates for %s: %w", date, err)
	}
	return nil
}

// Purge deletes trades and aggregate rows dated strictly before the given
// date (YYYY-MM-DD).
func (s *SQLiteStore) Purge(ctx context.Context, before string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM trades WHERE trade_date < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("purging trades: %w", err)
	}
	n, _ := res.RowsAffected()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM daily_aggregates WHERE date < ?`, before); err != nil {
		return n, fmt.Errorf("purging aggregates: %w", err)
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

const tradeColumns = `
	contract_symbol, underlying, expiry, side, strike,
	price, size, premium, exchange, condition_codes,
	trade_type, execution_level, priority, highlight,
	urgency_score, urgency_level, flow_direction,
	sweep_id, sweep_size, sweep_exchange_count,
	is_block, block_reason, spot_price, percent_otm,
	timestamp, sequence`

// RecentTrades returns the newest stored trades, newest first.
func (s *SQLiteStore) RecentTrades(ctx context.Context, limit int) ([]flow.ClassifiedTrade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tradeColumns+` FROM trades ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent trades: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

// TradesForDate returns every stored trade for a date, oldest first.
func (s *SQLiteStore) TradesForDate(ctx context.Context, date string) ([]flow.ClassifiedTrade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE trade_date = ? ORDER BY timestamp, id`, date)
	if err != nil {
		return nil, fmt.Errorf("querying trades for %s: %w", date, err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

func scanTrades(rows *sql.Rows) ([]flow.ClassifiedTrade, error) {
	var out []flow.ClassifiedTrade
	for rows.Next() {
		var t flow.ClassifiedTrade
		var expiry, side, conds, tradeType, level, urgLevel, direction, blockReason string
		if err := rows.Scan(
			&t.Symbol, &t.Contract.Underlying, &expiry, &side, &t.Contract.Strike,
			&t.Price, &t.Size, &t.Premium, &t.Exchange, &conds,
			&tradeType, &level, &t.Priority, &t.Highlight,
			&t.Urgency.Score, &urgLevel, &direction,
			&t.SweepID, &t.SweepSize, &t.SweepExchangeCount,
			&t.IsBlock, &blockReason, &t.SpotPrice, &t.PercentOTM,
			&t.Timestamp, &t.Sequence,
		); err != nil {
			return nil, fmt.Errorf("scanning trade: %w", err)
		}
		t.Contract.Expiry, _ = time.Parse("2006-01-02", expiry)
		t.Contract.Side = occ.Side(side)
		if err := json.Unmarshal([]byte(conds), &t.Conditions); err != nil {
			return nil, fmt.Errorf("decoding conditions: %w", err)
		}
		t.Type = flow.TradeType(tradeType)
		t.ExecutionLevel = flow.ExecutionLevel(level)
		t.Urgency.Level = urgLevel
		t.Direction = flow.Direction(direction)
		t.BlockReason = flow.BlockReason(blockReason)
		out = append(out, t)
	}
	return out, rows.Err()
}

// DatesBefore lists the distinct trade dates strictly before the given
// date, ascending.
func (s *SQLiteStore) DatesBefore(ctx context.Context, date string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT trade_date FROM trades WHERE trade_date < ? ORDER BY trade_date`, date)
	if err != nil {
		return nil, fmt.Errorf("listing dates: %w", err)
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

// DailyStats returns the aggregate row for a date with derived ratios. A
// date with no activity yields a zero row, not an error.
func (s *SQLiteStore) DailyStats(ctx context.Context, date string) (*DailyStats, error) {
	d := &DailyStats{Date: date}
	err := s.db.QueryRowContext(ctx, `
		SELECT total_trades, total_premium,
		       call_count, call_premium, put_count, put_premium,
		       sweep_count, sweep_premium, block_count, block_premium,
		       p1_count, p1_premium, p2_count, p2_premium,
		       p3_count, p3_premium, p4_count, p4_premium
		FROM daily_aggregates WHERE date = ?`, date).Scan(
		&d.TotalTrades, &d.TotalPremium,
		&d.CallCount, &d.CallPremium, &d.PutCount, &d.PutPremium,
		&d.SweepCount, &d.SweepPremium, &d.BlockCount, &d.BlockPremium,
		&d.PriorityCounts[0], &d.PriorityPremiums[0],
		&d.PriorityCounts[1], &d.PriorityPremiums[1],
		&d.PriorityCounts[2], &d.PriorityPremiums[2],
		&d.PriorityCounts[3], &d.PriorityPremiums[3],
	)
	if err == sql.ErrNoRows {
		return d, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying aggregates for %s: %w", date, err)
	}
	d.derive()
	return d, nil
}
