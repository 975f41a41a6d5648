// Package postgres implements store.Store on PostgreSQL via pgx.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/dialwire/dialwire/pkg/core/call"
	"github.com/dialwire/dialwire/pkg/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store is a PostgreSQL-backed store.Store.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to the database and runs pending migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if err := migrate(dsn); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func migrate(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, "migrations")
}

func (s *Store) Profile(ctx context.Context, userID string) (store.Profile, error) {
	var p store.Profile
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, twilio_account_sid, twilio_auth_token, twilio_from_number,
		       elevenlabs_api_key, stripe_customer_id
		FROM profiles WHERE user_id = $1`, userID).
		Scan(&p.UserID, &p.TwilioAccountSID, &p.TwilioAuthToken, &p.TwilioFromNumber,
			&p.ElevenLabsAPIKey, &p.StripeCustomerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Profile{}, store.ErrNotFound
	}
	if err != nil {
		return store.Profile{}, err
	}
	return p, nil
}

func (s *Store) Prospect(ctx context.Context, id string) (store.Prospect, error) {
	var p store.Prospect
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, name, phone, status FROM prospects WHERE id = $1`, id).
		Scan(&p.ID, &p.UserID, &p.Name, &p.Phone, &p.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Prospect{}, store.ErrNotFound
	}
	if err != nil {
		return store.Prospect{}, err
	}
	return p, nil
}

func (s *Store) SetProspectStatus(ctx context.Context, id, status string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE prospects SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) AgentConfig(ctx context.Context, id string) (store.AgentConfig, error) {
	var c store.AgentConfig
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, name, voice_id, conversation_agent_id, greeting, persona
		FROM agent_configs WHERE id = $1`, id).
		Scan(&c.ID, &c.UserID, &c.Name, &c.VoiceID, &c.ConversationAgentID, &c.Greeting, &c.Persona)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.AgentConfig{}, store.ErrNotFound
	}
	if err != nil {
		return store.AgentConfig{}, err
	}
	return c, nil
}

func (s *Store) CreateSession(ctx context.Context, cs *call.Session) error {
	transcript, extracted, err := marshalSessionBlobs(cs)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO call_sessions
			(log_id, call_sid, user_id, prospect_id, agent_config_id, path,
			 conversation_id, status, unconfirmed, initiated_at, ended_at,
			 transcript, extracted, summary, price, price_unit)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		cs.LogID, cs.CallSID, cs.UserID, cs.ProspectID, cs.AgentConfigID, cs.Path,
		cs.ConversationID, string(cs.Status), cs.Unconfirmed, cs.InitiatedAt, cs.EndedAt,
		transcript, extracted, cs.Summary, cs.Price, cs.PriceUnit)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "call_sessions_active_idx" {
		return store.ErrActiveConflict
	}
	return err
}

func (s *Store) UpdateSession(ctx context.Context, cs *call.Session) error {
	transcript, extracted, err := marshalSessionBlobs(cs)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE call_sessions SET
			call_sid = $2, conversation_id = $3, status = $4, unconfirmed = $5,
			ended_at = $6, transcript = $7, extracted = $8, summary = $9,
			price = $10, price_unit = $11
		WHERE log_id = $1`,
		cs.LogID, cs.CallSID, cs.ConversationID, string(cs.Status), cs.Unconfirmed,
		cs.EndedAt, transcript, extracted, cs.Summary, cs.Price, cs.PriceUnit)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

const sessionColumns = `
	log_id, call_sid, user_id, prospect_id, agent_config_id, path,
	conversation_id, status, unconfirmed, initiated_at, ended_at,
	transcript, extracted, summary, price, price_unit`

func (s *Store) SessionByLogID(ctx context.Context, logID string) (*call.Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM call_sessions WHERE log_id = $1`, logID)
	return scanSession(row)
}

func (s *Store) SessionBySID(ctx context.Context, callSID string) (*call.Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM call_sessions WHERE call_sid = $1 AND call_sid <> ''`, callSID)
	return scanSession(row)
}

func (s *Store) ActiveSession(ctx context.Context, userID string) (*call.Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM call_sessions
		 WHERE user_id = $1 AND status NOT IN ('completed','failed','busy','no-answer','canceled')
		 ORDER BY initiated_at DESC LIMIT 1`, userID)
	return scanSession(row)
}

func (s *Store) ListSessions(ctx context.Context, userID string, limit int) ([]*call.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM call_sessions
		 WHERE user_id = $1 ORDER BY initiated_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*call.Session
	for rows.Next() {
		cs, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*call.Session, error) {
	var (
		cs         call.Session
		status     string
		transcript []byte
		extracted  []byte
	)
	err := row.Scan(&cs.LogID, &cs.CallSID, &cs.UserID, &cs.ProspectID, &cs.AgentConfigID,
		&cs.Path, &cs.ConversationID, &status, &cs.Unconfirmed, &cs.InitiatedAt, &cs.EndedAt,
		&transcript, &extracted, &cs.Summary, &cs.Price, &cs.PriceUnit)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	cs.Status = call.Status(status)
	if len(transcript) > 0 {
		if err := json.Unmarshal(transcript, &cs.Transcript); err != nil {
			return nil, fmt.Errorf("decode transcript for %s: %w", cs.LogID, err)
		}
	}
	if len(extracted) > 0 {
		if err := json.Unmarshal(extracted, &cs.Extracted); err != nil {
			return nil, fmt.Errorf("decode extracted for %s: %w", cs.LogID, err)
		}
	}
	return &cs, nil
}

func marshalSessionBlobs(cs *call.Session) (transcript, extracted []byte, err error) {
	transcript, err = json.Marshal(cs.Transcript)
	if err != nil {
		return nil, nil, err
	}
	if cs.Extracted == nil {
		extracted = []byte("{}")
	} else {
		extracted, err = json.Marshal(cs.Extracted)
		if err != nil {
			return nil, nil, err
		}
	}
	return transcript, extracted, nil
}
