package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/estate-game/estate-server/internal/game"
	"github.com/estate-game/estate-server/internal/game/board"
)

const schema = `
CREATE TABLE IF NOT EXISTS square_templates (
	position   INTEGER PRIMARY KEY,
	name       TEXT NOT NULL,
	category   TEXT NOT NULL,
	color_group TEXT NOT NULL DEFAULT '',
	price      INTEGER NOT NULL DEFAULT 0,
	rent       INTEGER[] NOT NULL DEFAULT '{}',
	build_cost INTEGER NOT NULL DEFAULT 0,
	tax        INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS sessions (
	id           TEXT PRIMARY KEY,
	room_code    TEXT NOT NULL UNIQUE,
	status       TEXT NOT NULL,
	phase        TEXT NOT NULL,
	current_turn TEXT NOT NULL DEFAULT '',
	round        INTEGER NOT NULL DEFAULT 0,
	winner       TEXT NOT NULL DEFAULT '',
	version      BIGINT NOT NULL,
	state        JSONB NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS session_players (
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	player_id  TEXT NOT NULL,
	seat       INTEGER NOT NULL,
	name       TEXT NOT NULL,
	is_bot     BOOLEAN NOT NULL,
	cash       INTEGER NOT NULL,
	position   INTEGER NOT NULL,
	in_jail    BOOLEAN NOT NULL,
	bankrupt   BOOLEAN NOT NULL,
	PRIMARY KEY (session_id, player_id)
);

CREATE TABLE IF NOT EXISTS session_squares (
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	position   INTEGER NOT NULL,
	owner      TEXT NOT NULL,
	level      INTEGER NOT NULL,
	mortgaged  BOOLEAN NOT NULL,
	PRIMARY KEY (session_id, position)
);

CREATE TABLE IF NOT EXISTS applied_actions (
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	action_id  TEXT NOT NULL,
	version    BIGINT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (session_id, action_id)
);
`

const (
	upsertSessionSQL = `
INSERT INTO sessions (id, room_code, status, phase, current_turn, round, winner, version, state, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status,
	phase = EXCLUDED.phase,
	current_turn = EXCLUDED.current_turn,
	round = EXCLUDED.round,
	winner = EXCLUDED.winner,
	version = EXCLUDED.version,
	state = EXCLUDED.state,
	updated_at = now()
WHERE sessions.version < EXCLUDED.version OR EXCLUDED.version = 0`

	insertPlayerSQL = `
INSERT INTO session_players (session_id, player_id, seat, name, is_bot, cash, position, in_jail, bankrupt)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	insertSquareSQL = `
INSERT INTO session_squares (session_id, position, owner, level, mortgaged)
VALUES ($1, $2, $3, $4, $5)`

	insertActionSQL = `
INSERT INTO applied_actions (session_id, action_id, version)
VALUES ($1, $2, $3)
ON CONFLICT (session_id, action_id) DO NOTHING`

	upsertTemplateSQL = `
INSERT INTO square_templates (position, name, category, color_group, price, rent, build_cost, tax)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (position) DO UPDATE SET
	name = EXCLUDED.name,
	category = EXCLUDED.category,
	color_group = EXCLUDED.color_group,
	price = EXCLUDED.price,
	rent = EXCLUDED.rent,
	build_cost = EXCLUDED.build_cost,
	tax = EXCLUDED.tax`
)

// ErrStaleVersion means a newer version of the session is already stored.
var ErrStaleVersion = errors.New("stored session is newer")

// PostgresStore commits each session version in one transaction: the
// session row, its players, its owned squares and the applied action id.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore connects a pool and verifies it with a ping.
func NewPostgresStore(ctx context.Context, url string, maxConns int32, logger *zap.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if logger != nil {
		stats := pool.Stat()
		logger.Info("database connection pool initialized",
			zap.Int32("max_conns", stats.MaxConns()),
			zap.Int32("total_conns", stats.TotalConns()),
		)
	}
	return &PostgresStore{pool: pool, logger: logger}, nil
}

// Migrate creates the tables when they do not exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (p *PostgresStore) Close() {
	p.pool.Close()
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) LoadSession(ctx context.Context, id string) (*game.Session, error) {
	var state []byte
	err := p.pool.QueryRow(ctx, `SELECT state FROM sessions WHERE id = $1`, id).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, game.ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	return decodeSession(state)
}

// LoadActive returns the ids of sessions that have not finished, for
// restoring after a restart.
func (p *PostgresStore) LoadActive(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT id FROM sessions WHERE status <> $1 ORDER BY updated_at`, string(game.StatusFinished))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return ids, nil
}

// AppliedVersion looks an action up in applied_actions.
func (p *PostgresStore) AppliedVersion(ctx context.Context, sessionID, actionID string) (int64, bool, error) {
	var version int64
	err := p.pool.QueryRow(ctx,
		`SELECT version FROM applied_actions WHERE session_id = $1 AND action_id = $2`,
		sessionID, actionID,
	).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("look up action %s: %w", actionID, err)
	}
	return version, true, nil
}

func (p *PostgresStore) Commit(ctx context.Context, s *game.Session, actionID string) error {
	rec, err := toRecord(s)
	if err != nil {
		return err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, upsertSessionSQL,
		rec.ID, rec.RoomCode, rec.Status, rec.Phase, rec.CurrentTurn, rec.Round, rec.Winner, rec.Version, rec.State)
	if err != nil {
		return fmt.Errorf("write session %s: %w", s.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s version %d: %w", s.ID, s.Version, ErrStaleVersion)
	}

	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM session_players WHERE session_id = $1`, s.ID)
	batch.Queue(`DELETE FROM session_squares WHERE session_id = $1`, s.ID)
	for _, pr := range playerRecords(s) {
		batch.Queue(insertPlayerSQL, pr.SessionID, pr.PlayerID, pr.Seat, pr.Name, pr.IsBot,
			pr.Cash, pr.Position, pr.InJail, pr.Bankrupt)
	}
	for _, sq := range ownedSquares(s) {
		batch.Queue(insertSquareSQL, sq.SessionID, sq.Position, sq.Owner, sq.Level, sq.Mortgaged)
	}
	if actionID != "" {
		batch.Queue(insertActionSQL, s.ID, actionID, s.Version)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("write session %s rows: %w", s.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit session %s: %w", s.ID, err)
	}
	if p.logger != nil {
		p.logger.Debug("session committed",
			zap.String("session_id", s.ID),
			zap.Int64("version", s.Version),
			zap.String("action_id", actionID),
		)
	}
	return nil
}

func (p *PostgresStore) DeleteSession(ctx context.Context, id string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

// SeedTemplates upserts the board's square definitions in one transaction.
func (p *PostgresStore) SeedTemplates(ctx context.Context, b *board.Board) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin seed: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, t := range b.Templates() {
		batch.Queue(upsertTemplateSQL, templateArgs(t)...)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("seed templates: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit templates: %w", err)
	}
	if p.logger != nil {
		p.logger.Info("square templates seeded", zap.Int("count", b.Size()))
	}
	return nil
}

func (p *PostgresStore) LoadTemplates(ctx context.Context) ([]board.SquareTemplate, error) {
	rows, err := p.pool.Query(ctx, `
SELECT position, name, category, color_group, price, rent, build_cost, tax
FROM square_templates ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	templates, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (board.SquareTemplate, error) {
		var t board.SquareTemplate
		var category string
		err := row.Scan(&t.Position, &t.Name, &category, &t.Group, &t.Price, &t.Rent, &t.BuildCost, &t.TaxAmount)
		t.Category = board.Category(category)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	return templates, nil
}

func templateArgs(t board.SquareTemplate) []any {
	rent := t.Rent
	if rent == nil {
		rent = []int{}
	}
	return []any{t.Position, t.Name, string(t.Category), t.Group, t.Price, rent, t.BuildCost, t.TaxAmount}
}
