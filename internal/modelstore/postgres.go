package modelstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"intent-engine/internal/common/logger"
	"intent-engine/pkg/registry"
)

// Schema creates the model tables. Child rows keep declaration order in
// position; intents register in that order.
const Schema = `
CREATE TABLE IF NOT EXISTS intent_models (
	id          TEXT PRIMARY KEY,
	version     TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS intent_macros (
	model_id TEXT NOT NULL REFERENCES intent_models(id) ON DELETE CASCADE,
	position INT  NOT NULL,
	name     TEXT NOT NULL,
	body     TEXT NOT NULL,
	PRIMARY KEY (model_id, position)
);
CREATE TABLE IF NOT EXISTS intent_elements (
	model_id    TEXT   NOT NULL REFERENCES intent_models(id) ON DELETE CASCADE,
	position    INT    NOT NULL,
	element_id  TEXT   NOT NULL,
	description TEXT   NOT NULL DEFAULT '',
	groups      TEXT[] NOT NULL DEFAULT '{}',
	synonyms    TEXT[] NOT NULL DEFAULT '{}',
	PRIMARY KEY (model_id, position)
);
CREATE TABLE IF NOT EXISTS intent_fragments (
	model_id TEXT NOT NULL REFERENCES intent_models(id) ON DELETE CASCADE,
	position INT  NOT NULL,
	body     TEXT NOT NULL,
	PRIMARY KEY (model_id, position)
);
CREATE TABLE IF NOT EXISTS intent_definitions (
	model_id TEXT NOT NULL REFERENCES intent_models(id) ON DELETE CASCADE,
	position INT  NOT NULL,
	body     TEXT NOT NULL,
	PRIMARY KEY (model_id, position)
);`

var childTables = []string{"intent_macros", "intent_elements", "intent_fragments", "intent_definitions"}

// ModelInfo is one row of intent_models.
type ModelInfo struct {
	ID          string
	Version     string
	Description string
}

type PostgresSource struct {
	db     *sql.DB
	logger logger.Logger
}

func NewPostgresSource(db *sql.DB, log logger.Logger) *PostgresSource {
	return &PostgresSource{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "modelstore"}),
	}
}

func (s *PostgresSource) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("create model schema: %w", err)
	}
	return nil
}

// Load reads a model and validates it like a model file.
func (s *PostgresSource) Load(ctx context.Context, modelID string) (*registry.Model, error) {
	m := &registry.Model{ID: modelID}
	err := s.db.QueryRowContext(ctx,
		`SELECT version, description FROM intent_models WHERE id = $1`, modelID,
	).Scan(&m.Version, &m.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: model %s not found", registry.ErrInvalidModel, modelID)
	}
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", modelID, err)
	}

	if m.Macros, err = s.macros(ctx, modelID); err != nil {
		return nil, err
	}
	if m.Elements, err = s.elements(ctx, modelID); err != nil {
		return nil, err
	}
	if m.Fragments, err = s.bodies(ctx, "intent_fragments", modelID); err != nil {
		return nil, err
	}
	if m.Intents, err = s.bodies(ctx, "intent_definitions", modelID); err != nil {
		return nil, err
	}

	if err := registry.Validate(m); err != nil {
		return nil, err
	}

	s.logger.Debug("Model loaded from postgres", map[string]interface{}{
		"modelId": modelID,
		"version": m.Version,
		"intents": len(m.Intents),
	})
	return m, nil
}

func (s *PostgresSource) macros(ctx context.Context, modelID string) ([]registry.MacroDef, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, body FROM intent_macros WHERE model_id = $1 ORDER BY position`, modelID)
	if err != nil {
		return nil, fmt.Errorf("load macros of %s: %w", modelID, err)
	}
	defer rows.Close()

	var out []registry.MacroDef
	for rows.Next() {
		var md registry.MacroDef
		if err := rows.Scan(&md.Name, &md.Macro); err != nil {
			return nil, fmt.Errorf("scan macro of %s: %w", modelID, err)
		}
		out = append(out, md)
	}
	return out, rows.Err()
}

func (s *PostgresSource) elements(ctx context.Context, modelID string) ([]registry.Element, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT element_id, description, groups, synonyms FROM intent_elements WHERE model_id = $1 ORDER BY position`, modelID)
	if err != nil {
		return nil, fmt.Errorf("load elements of %s: %w", modelID, err)
	}
	defer rows.Close()

	var out []registry.Element
	for rows.Next() {
		var el registry.Element
		if err := rows.Scan(&el.ID, &el.Description, pq.Array(&el.Groups), pq.Array(&el.Synonyms)); err != nil {
			return nil, fmt.Errorf("scan element of %s: %w", modelID, err)
		}
		out = append(out, el)
	}
	return out, rows.Err()
}

// bodies reads the ordered body column of a fragment or intent table.
func (s *PostgresSource) bodies(ctx context.Context, table, modelID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM `+table+` WHERE model_id = $1 ORDER BY position`, modelID)
	if err != nil {
		return nil, fmt.Errorf("load %s of %s: %w", table, modelID, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan %s of %s: %w", table, modelID, err)
		}
		out = append(out, body)
	}
	return out, rows.Err()
}

// Save replaces a model in one transaction.
func (s *PostgresSource) Save(ctx context.Context, m *registry.Model) (err error) {
	if err := registry.Validate(m); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO intent_models (id, version, description, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (id) DO UPDATE
		SET version = EXCLUDED.version, description = EXCLUDED.description, updated_at = now()`,
		m.ID, m.Version, m.Description); err != nil {
		return fmt.Errorf("upsert model %s: %w", m.ID, err)
	}

	for _, table := range childTables {
		if _, err = tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE model_id = $1`, m.ID); err != nil {
			return fmt.Errorf("clear %s of %s: %w", table, m.ID, err)
		}
	}

	for i, md := range m.Macros {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO intent_macros (model_id, position, name, body) VALUES ($1, $2, $3, $4)`,
			m.ID, i, md.Name, md.Macro); err != nil {
			return fmt.Errorf("insert macro %s: %w", md.Name, err)
		}
	}
	for i, el := range m.Elements {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO intent_elements (model_id, position, element_id, description, groups, synonyms) VALUES ($1, $2, $3, $4, $5, $6)`,
			m.ID, i, el.ID, el.Description, pq.Array(el.Groups), pq.Array(el.Synonyms)); err != nil {
			return fmt.Errorf("insert element %s: %w", el.ID, err)
		}
	}
	for i, body := range m.Fragments {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO intent_fragments (model_id, position, body) VALUES ($1, $2, $3)`,
			m.ID, i, body); err != nil {
			return fmt.Errorf("insert fragment %d: %w", i, err)
		}
	}
	for i, body := range m.Intents {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO intent_definitions (model_id, position, body) VALUES ($1, $2, $3)`,
			m.ID, i, body); err != nil {
			return fmt.Errorf("insert intent %d: %w", i, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit model %s: %w", m.ID, err)
	}

	s.logger.Info("Model saved to postgres", map[string]interface{}{
		"modelId": m.ID,
		"version": m.Version,
		"intents": len(m.Intents),
	})
	return nil
}

// List returns every stored model header ordered by id.
func (s *PostgresSource) List(ctx context.Context) ([]ModelInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, version, description FROM intent_models ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer rows.Close()

	var out []ModelInfo
	for rows.Next() {
		var mi ModelInfo
		if err := rows.Scan(&mi.ID, &mi.Version, &mi.Description); err != nil {
			return nil, fmt.Errorf("scan model: %w", err)
		}
		out = append(out, mi)
	}
	return out, rows.Err()
}
