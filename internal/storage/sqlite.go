package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/calloway-trading/strikestream/internal/models"
)

const dateLayout = "2006-01-02"

// SQLiteStore implements Interface backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and prepares
// the schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS order_legs (
		id TEXT PRIMARY KEY,
		batch_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		account TEXT NOT NULL,
		conid TEXT NOT NULL,
		option_right TEXT NOT NULL,
		side TEXT NOT NULL,
		order_type TEXT NOT NULL,
		tif TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		price REAL NOT NULL,
		client_order_id TEXT NOT NULL UNIQUE,
		broker_order_id TEXT,
		raw_response TEXT,
		status TEXT NOT NULL,
		filled_price REAL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_order_legs_user ON order_legs(user_id, status);

	CREATE TABLE IF NOT EXISTS strikes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		contract_id TEXT NOT NULL,
		strike_price REAL NOT NULL,
		option_right TEXT NOT NULL,
		month TEXT NOT NULL,
		option_conid TEXT,
		description TEXT,
		maturity_date TEXT,
		last_quote TEXT,
		trade_date DATE NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(contract_id, strike_price, option_right, month, trade_date)
	);

	CREATE TABLE IF NOT EXISTS tracked_contracts (
		user_id TEXT NOT NULL,
		contract_id TEXT NOT NULL,
		month TEXT NOT NULL,
		trade_date DATE NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(user_id, contract_id, trade_date)
	);

	CREATE TABLE IF NOT EXISTS timers (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		remaining_ticks INTEGER NOT NULL,
		place_order TEXT,
		trade_date DATE NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(user_id, trade_date)
	);`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateOrderLeg inserts a new order leg.
func (s *SQLiteStore) CreateOrderLeg(ctx context.Context, leg *models.OrderLeg) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if leg.CreatedAt.IsZero() {
		leg.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO order_legs
			(id, batch_id, user_id, account, conid, option_right, side, order_type,
			 tif, quantity, price, client_order_id, broker_order_id, raw_response,
			 status, filled_price, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		leg.ID, leg.BatchID, leg.UserID, leg.Account, leg.ContractID,
		string(leg.Right), string(leg.Side), string(leg.OrderType),
		leg.TimeInForce, leg.Quantity, leg.Price, leg.ClientOrderID,
		leg.BrokerOrderID, leg.RawResponse, string(leg.Status), leg.FilledPrice,
		leg.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting order leg %s: %w", leg.ClientOrderID, err)
	}
	return nil
}

// UpdateOrderLeg persists mutable leg fields (status, broker id, payload,
// fill price) for an existing leg.
func (s *SQLiteStore) UpdateOrderLeg(ctx context.Context, leg *models.OrderLeg) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE order_legs
		SET broker_order_id = ?, raw_response = ?, status = ?, filled_price = ?
		WHERE id = ?`,
		leg.BrokerOrderID, leg.RawResponse, string(leg.Status), leg.FilledPrice, leg.ID)
	if err != nil {
		return fmt.Errorf("updating order leg %s: %w", leg.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const legColumns = `id, batch_id, user_id, account, conid, option_right, side,
	order_type, tif, quantity, price, client_order_id, broker_order_id,
	raw_response, status, filled_price, created_at`

func scanLeg(row interface{ Scan(...any) error }) (*models.OrderLeg, error) {
	var leg models.OrderLeg
	var right, side, orderType, status string
	var brokerID, raw sql.NullString
	var filled sql.NullFloat64
	err := row.Scan(&leg.ID, &leg.BatchID, &leg.UserID, &leg.Account,
		&leg.ContractID, &right, &side, &orderType, &leg.TimeInForce,
		&leg.Quantity, &leg.Price, &leg.ClientOrderID, &brokerID, &raw,
		&status, &filled, &leg.CreatedAt)
	if err != nil {
		return nil, err
	}
	leg.Right = models.OptionRight(right)
	leg.Side = models.OrderSide(side)
	leg.OrderType = models.OrderType(orderType)
	leg.Status = models.LegStatus(status)
	leg.BrokerOrderID = brokerID.String
	leg.RawResponse = raw.String
	leg.FilledPrice = filled.Float64
	return &leg, nil
}

// GetOrderLeg retrieves one leg by its persisted id.
func (s *SQLiteStore) GetOrderLeg(ctx context.Context, id string) (*models.OrderLeg, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+legColumns+` FROM order_legs WHERE id = ?`, id)
	leg, err := scanLeg(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return leg, err
}

func (s *SQLiteStore) queryLegs(ctx context.Context, query string, args ...any) ([]models.OrderLeg, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var legs []models.OrderLeg
	for rows.Next() {
		leg, err := scanLeg(rows)
		if err != nil {
			return nil, err
		}
		legs = append(legs, *leg)
	}
	return legs, rows.Err()
}

// ListOpenOrderLegs returns the user's legs whose status is not terminal.
func (s *SQLiteStore) ListOpenOrderLegs(ctx context.Context, userID string) ([]models.OrderLeg, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryLegs(ctx, `SELECT `+legColumns+` FROM order_legs
		WHERE user_id = ? AND status NOT IN (?, ?, ?)
		ORDER BY created_at`,
		userID, string(models.StatusFilled), string(models.StatusCancelled),
		string(models.StatusRejected))
}

// ListOrderLegsByDate returns the user's legs created on the given day.
func (s *SQLiteStore) ListOrderLegsByDate(ctx context.Context, userID string, day time.Time) ([]models.OrderLeg, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryLegs(ctx, `SELECT `+legColumns+` FROM order_legs
		WHERE user_id = ? AND date(created_at) = ?
		ORDER BY created_at`,
		userID, day.UTC().Format(dateLayout))
}

// HighestClientOrderSeq scans all client order ids with the given prefix and
// returns the highest numeric suffix, 0 when none exist.
func (s *SQLiteStore) HighestClientOrderSeq(ctx context.Context, prefix string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT client_order_id FROM order_legs WHERE client_order_id LIKE ?`,
		prefix+"%")
	if err != nil {
		return 0, err
	}
	defer func() { _ = rows.Close() }()

	highest := 0
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return 0, err
		}
		seq, err := strconv.Atoi(strings.TrimPrefix(id, prefix))
		if err != nil {
			continue
		}
		if seq > highest {
			highest = seq
		}
	}
	return highest, rows.Err()
}

// UpsertStrike inserts or refreshes a validated strike for today, keyed by
// (contract, strike, right, month, trade date).
func (s *SQLiteStore) UpsertStrike(ctx context.Context, candidate *models.StrikeCandidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if candidate.CreatedAt.IsZero() {
		candidate.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO strikes
			(contract_id, strike_price, option_right, month, option_conid,
			 description, maturity_date, last_quote, trade_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(contract_id, strike_price, option_right, month, trade_date)
		DO UPDATE SET option_conid = excluded.option_conid,
			description = excluded.description,
			maturity_date = excluded.maturity_date,
			last_quote = excluded.last_quote`,
		candidate.ContractID, candidate.StrikePrice, string(candidate.Right),
		candidate.Month, candidate.OptionConID, candidate.Description,
		candidate.MaturityDate, candidate.LastQuote,
		candidate.CreatedAt.Format(dateLayout), candidate.CreatedAt)
	if err != nil {
		return fmt.Errorf("upserting strike %s/%.2f/%s: %w",
			candidate.ContractID, candidate.StrikePrice, candidate.Right, err)
	}
	return nil
}

// ListStrikesByDate returns the validated strikes recorded for a contract on
// the given trading day, ordered by strike price.
func (s *SQLiteStore) ListStrikesByDate(ctx context.Context, contractID string, day time.Time) ([]models.StrikeCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT contract_id, strike_price, option_right, month, option_conid,
			description, maturity_date, last_quote, created_at
		FROM strikes
		WHERE contract_id = ? AND trade_date = ?
		ORDER BY strike_price`,
		contractID, day.UTC().Format(dateLayout))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []models.StrikeCandidate
	for rows.Next() {
		var c models.StrikeCandidate
		var right string
		var conid, desc, maturity, quote sql.NullString
		if err := rows.Scan(&c.ContractID, &c.StrikePrice, &right, &c.Month,
			&conid, &desc, &maturity, &quote, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Right = models.OptionRight(right)
		c.OptionConID = conid.String
		c.Description = desc.String
		c.MaturityDate = maturity.String
		c.LastQuote = quote.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// SaveTrackedContract records the option month resolved for a contract the
// user is tracking today.
func (s *SQLiteStore) SaveTrackedContract(ctx context.Context, userID, contractID, month string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tracked_contracts (user_id, contract_id, month, trade_date)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, contract_id, trade_date)
		DO UPDATE SET month = excluded.month`,
		userID, contractID, month, time.Now().UTC().Format(dateLayout))
	return err
}

// GetTrackedContractMonth returns the month recorded for a tracked contract
// on the given day, or ErrNotFound.
func (s *SQLiteStore) GetTrackedContractMonth(ctx context.Context, userID, contractID string, day time.Time) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var month string
	err := s.db.QueryRowContext(ctx, `
		SELECT month FROM tracked_contracts
		WHERE user_id = ? AND contract_id = ? AND trade_date = ?`,
		userID, contractID, day.UTC().Format(dateLayout)).Scan(&month)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return month, err
}

// CreateTimer inserts the user's order-gate timer for today. At most one
// timer exists per user per trading day.
func (s *SQLiteStore) CreateTimer(ctx context.Context, timer *models.TimerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timer.CreatedAt.IsZero() {
		timer.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO timers (id, user_id, remaining_ticks, place_order, trade_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, trade_date) DO NOTHING`,
		timer.ID, timer.UserID, timer.RemainingTicks, timer.PlaceOrder,
		timer.CreatedAt.Format(dateLayout), timer.CreatedAt)
	return err
}

// GetTimer returns the user's timer for the given trading day, or ErrNotFound.
func (s *SQLiteStore) GetTimer(ctx context.Context, userID string, day time.Time) (*models.TimerState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var t models.TimerState
	var placeOrder sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, remaining_ticks, place_order, created_at
		FROM timers WHERE user_id = ? AND trade_date = ?`,
		userID, day.UTC().Format(dateLayout)).
		Scan(&t.ID, &t.UserID, &t.RemainingTicks, &placeOrder, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.PlaceOrder = placeOrder.String
	return &t, nil
}

// DecrementTimers consumes one tick from every non-terminal timer for the
// given trading day.
func (s *SQLiteStore) DecrementTimers(ctx context.Context, day time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE timers SET remaining_ticks = remaining_ticks - 1
		WHERE trade_date = ? AND remaining_ticks > 0`,
		day.UTC().Format(dateLayout))
	return err
}
