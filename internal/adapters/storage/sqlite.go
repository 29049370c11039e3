package storage

// sqlite.go: store de posiciones.
//
// Estrategia:
//   - `positions`: una fila por recomendación. La inserta el colaborador de
//     análisis; el monitor solo mueve status y columnas de salida.
//   - `position_history`: una fila por transición persistida, en la misma tx
//     que el update. Sirve de auditoría y para la API.
//   - Update optimista: el WHERE incluye el status de origen. Si otro proceso
//     ya movió la posición, el update no toca nada y devuelve ErrStaleStatus.

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alejandrodnm/posmon/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS positions (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    ticker          TEXT    NOT NULL,
    recommended_at  TEXT    NOT NULL,
    entry_price     REAL    NOT NULL,
    stop_loss       REAL    NOT NULL,
    target_price    REAL    NOT NULL,
    max_hold_days   INTEGER NOT NULL DEFAULT 14,
    order_kind      TEXT    NOT NULL DEFAULT 'MARKET',
    status          TEXT    NOT NULL DEFAULT 'pending',
    entry_hit_at    TEXT,
    exit_at         TEXT,
    exit_price      REAL,
    profit_loss_pct REAL,
    updated_at      TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS position_history (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    position_id     INTEGER NOT NULL REFERENCES positions(id),
    from_status     TEXT    NOT NULL,
    to_status       TEXT    NOT NULL,
    at              TEXT    NOT NULL,
    exit_price      REAL,
    profit_loss_pct REAL
);

CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);
CREATE INDEX IF NOT EXISTS idx_history_position ON position_history(position_id, at);
`

const positionColumns = `id, ticker, recommended_at, entry_price, stop_loss, target_price,
	max_hold_days, order_kind, status, entry_hit_at, exit_at, exit_price, profit_loss_pct`

// timeLayout es RFC3339 con fracción fija: el orden lexicográfico coincide con el cronológico.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var (
	// ErrNotFound: no existe una posición con ese id.
	ErrNotFound = errors.New("storage: position not found")
	// ErrStaleStatus: el status persistido ya no coincide con el From del update.
	ErrStaleStatus = errors.New("storage: stale status")
	// ErrInvalidTransition: el update no respeta el grafo de estados.
	ErrInvalidTransition = errors.New("storage: invalid status transition")
)

// HistoryEntry es una transición persistida.
type HistoryEntry struct {
	PositionID    int64                 `json:"position_id"`
	From          domain.PositionStatus `json:"from"`
	To            domain.PositionStatus `json:"to"`
	At            time.Time             `json:"at"`
	ExitPrice     *float64              `json:"exit_price,omitempty"`
	ProfitLossPct *float64              `json:"profit_loss_pct,omitempty"`
}

// SQLiteStorage implementa ports.PositionStore usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada y aplica el schema.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}
	return New(db), nil
}

// New envuelve una conexión ya abierta. No aplica el schema.
func New(db *sql.DB) *SQLiteStorage {
	return &SQLiteStorage{db: db, now: time.Now}
}

// ListOpenPositions devuelve las posiciones pending y entry_hit, las más antiguas primero.
func (s *SQLiteStorage) ListOpenPositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE status IN (?, ?) ORDER BY recommended_at, id`,
		string(domain.StatusPending), string(domain.StatusEntryHit),
	)
	if err != nil {
		return nil, fmt.Errorf("storage.ListOpenPositions: query: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.ListOpenPositions: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage.ListOpenPositions: rows: %w", err)
	}
	return positions, nil
}

// GetPosition devuelve una posición por id o ErrNotFound.
func (s *SQLiteStorage) GetPosition(ctx context.Context, id int64) (domain.Position, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE id = ?`, id)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Position{}, ErrNotFound
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("storage.GetPosition: %w", err)
	}
	return p, nil
}

// InsertPosition persiste una recomendación nueva y devuelve su id.
// Status vacío se guarda como pending; OrderKind vacío como MARKET.
func (s *SQLiteStorage) InsertPosition(ctx context.Context, p domain.Position) (int64, error) {
	if p.Ticker == "" {
		return 0, fmt.Errorf("storage.InsertPosition: empty ticker")
	}
	if p.Status == "" {
		p.Status = domain.StatusPending
	}
	if p.OrderKind == "" {
		p.OrderKind = domain.OrderMarket
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO positions
			(ticker, recommended_at, entry_price, stop_loss, target_price,
			 max_hold_days, order_kind, status, entry_hit_at, exit_at,
			 exit_price, profit_loss_pct, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Ticker,
		formatTime(p.RecommendedAt),
		p.EntryPrice,
		p.StopLoss,
		p.TargetPrice,
		p.MaxHoldDays,
		string(p.OrderKind),
		string(p.Status),
		formatTimePtr(p.EntryHitAt),
		formatTimePtr(p.ExitAt),
		p.ExitPrice,
		p.ProfitLossPct,
		formatTime(s.now()),
	)
	if err != nil {
		return 0, fmt.Errorf("storage.InsertPosition: insert %s: %w", p.Ticker, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("storage.InsertPosition: last insert id: %w", err)
	}
	return id, nil
}

// UpdateStatus aplica una transición si el status persistido sigue siendo upd.From.
// entry_hit_at solo se escribe la primera vez; las columnas de salida solo en
// estados terminales.
func (s *SQLiteStorage) UpdateStatus(ctx context.Context, upd domain.StatusUpdate) error {
	if !domain.CanTransition(upd.From, upd.To) {
		return fmt.Errorf("storage.UpdateStatus: %s -> %s: %w", upd.From, upd.To, ErrInvalidTransition)
	}

	at := formatTime(upd.At)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.UpdateStatus: begin tx: %w", err)
	}
	defer tx.Rollback()

	var res sql.Result
	if upd.To == domain.StatusEntryHit {
		res, err = tx.ExecContext(ctx, `
			UPDATE positions
			SET status = ?, entry_hit_at = COALESCE(entry_hit_at, ?), updated_at = ?
			WHERE id = ? AND status = ?`,
			string(upd.To), at, at, upd.ID, string(upd.From),
		)
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE positions
			SET status = ?, exit_at = ?, exit_price = ?, profit_loss_pct = ?, updated_at = ?
			WHERE id = ? AND status = ?`,
			string(upd.To), at, upd.ExitPrice, upd.ProfitLossPct, at, upd.ID, string(upd.From),
		)
	}
	if err != nil {
		return fmt.Errorf("storage.UpdateStatus: update %d: %w", upd.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage.UpdateStatus: rows affected: %w", err)
	}
	if n == 0 {
		return s.missReason(ctx, tx, upd)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO position_history (position_id, from_status, to_status, at, exit_price, profit_loss_pct)
		VALUES (?, ?, ?, ?, ?, ?)`,
		upd.ID, string(upd.From), string(upd.To), at, upd.ExitPrice, upd.ProfitLossPct,
	); err != nil {
		return fmt.Errorf("storage.UpdateStatus: insert history %d: %w", upd.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.UpdateStatus: commit: %w", err)
	}
	return nil
}

// missReason distingue entre posición inexistente y status ya cambiado.
func (s *SQLiteStorage) missReason(ctx context.Context, tx *sql.Tx, upd domain.StatusUpdate) error {
	var current string
	err := tx.QueryRowContext(ctx, `SELECT status FROM positions WHERE id = ?`, upd.ID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("storage.UpdateStatus: position %d: %w", upd.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("storage.UpdateStatus: read status %d: %w", upd.ID, err)
	}
	return fmt.Errorf("storage.UpdateStatus: position %d is %s, expected %s: %w",
		upd.ID, current, upd.From, ErrStaleStatus)
}

// History devuelve las transiciones persistidas de una posición en orden cronológico.
func (s *SQLiteStorage) History(ctx context.Context, positionID int64) ([]HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT position_id, from_status, to_status, at, exit_price, profit_loss_pct
		FROM position_history
		WHERE position_id = ?
		ORDER BY at, id`, positionID)
	if err != nil {
		return nil, fmt.Errorf("storage.History: query: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		var from, to, at string
		var exit, pnl sql.NullFloat64
		if err := rows.Scan(&h.PositionID, &from, &to, &at, &exit, &pnl); err != nil {
			return nil, fmt.Errorf("storage.History: scan row: %w", err)
		}
		h.From = domain.PositionStatus(from)
		h.To = domain.PositionStatus(to)
		h.At, _ = time.Parse(time.RFC3339Nano, at)
		h.ExitPrice = floatPtr(exit)
		h.ProfitLossPct = floatPtr(pnl)
		out = append(out, h)
	}
	return out, rows.Err()
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- helpers internos ---

type scanner interface {
	Scan(dest ...any) error
}

func scanPosition(r scanner) (domain.Position, error) {
	var p domain.Position
	var recommendedAt, orderKind, status string
	var entryHitAt, exitAt sql.NullString
	var exitPrice, pnl sql.NullFloat64

	if err := r.Scan(
		&p.ID,
		&p.Ticker,
		&recommendedAt,
		&p.EntryPrice,
		&p.StopLoss,
		&p.TargetPrice,
		&p.MaxHoldDays,
		&orderKind,
		&status,
		&entryHitAt,
		&exitAt,
		&exitPrice,
		&pnl,
	); err != nil {
		return domain.Position{}, fmt.Errorf("scan position: %w", err)
	}

	t, err := time.Parse(time.RFC3339Nano, recommendedAt)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position %d: parse recommended_at %q: %w", p.ID, recommendedAt, err)
	}
	p.RecommendedAt = t
	p.OrderKind = domain.OrderKind(orderKind)
	p.Status = domain.PositionStatus(status)
	p.EntryHitAt = timePtr(entryHitAt)
	p.ExitAt = timePtr(exitAt)
	p.ExitPrice = floatPtr(exitPrice)
	p.ProfitLossPct = floatPtr(pnl)
	return p, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func timePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}
