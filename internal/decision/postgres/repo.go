// Package postgres provides a relational backend for the decision
// record log, for deployments that outgrow the NDJSON file.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/mlevitan96-crypto/trading-bot-sub006/internal/decision"
)

const schema = `
CREATE TABLE IF NOT EXISTS decision_records (
	id          BIGSERIAL PRIMARY KEY,
	decision_id TEXT        NOT NULL,
	stage       TEXT        NOT NULL,
	at          TIMESTAMPTZ NOT NULL,
	payload     JSONB       NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decision_records_decision_id ON decision_records (decision_id);
CREATE INDEX IF NOT EXISTS idx_decision_records_at ON decision_records (at);
`

// Repo implements decision.Log on Postgres. Records stay append-only:
// there is no UPDATE path, corrections are new rows.
type Repo struct {
	db *sqlx.DB
}

// Connect opens the database and ensures the schema exists.
func Connect(ctx context.Context, dsn string) (*Repo, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate decision_records: %w", err)
	}
	return &Repo{db: db}, nil
}

// Close releases the connection pool.
func (r *Repo) Close() error { return r.db.Close() }

// Append inserts one record row.
func (r *Repo) Append(ctx context.Context, rec decision.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal decision record: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO decision_records (decision_id, stage, at, payload) VALUES ($1, $2, $3, $4)`,
		rec.DecisionID, string(rec.Stage), rec.At, payload)
	if err != nil {
		return fmt.Errorf("insert decision record: %w", err)
	}
	return nil
}

// Records returns the full stream in append order. Rows whose payload
// no longer parses are skipped record-by-record.
func (r *Repo) Records(ctx context.Context) ([]decision.Record, error) {
	rows, err := r.db.QueryxContext(ctx,
		`SELECT payload FROM decision_records ORDER BY at, id`)
	if err != nil {
		return nil, fmt.Errorf("select decision records: %w", err)
	}
	defer rows.Close()

	var out []decision.Record
	skipped := 0
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			skipped++
			continue
		}
		var rec decision.Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			skipped++
			continue
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return out, fmt.Errorf("iterate decision records: %w", err)
	}
	if skipped > 0 {
		log.Warn().Int("skipped", skipped).Msg("malformed decision rows skipped")
	}
	return out, nil
}
