package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

var validTableName = regexp.MustCompile(`^[a-z_][a-zA-Z0-9_]{0,62}$`)

// PGEngine stores records in a postgres table with a pgvector embedding
// column. The schema is created idempotently at construction.
type PGEngine struct {
	pool  *pgxpool.Pool
	table string
}

// NewPGEngine validates the table name, ensures the schema exists and
// returns the engine. dim fixes the embedding column width.
func NewPGEngine(ctx context.Context, pool *pgxpool.Pool, table string, dim int) (*PGEngine, error) {
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q: must be lowercase identifier characters, max 63 chars", table)
	}
	if dim <= 0 {
		dim = 1536
	}
	e := &PGEngine{pool: pool, table: table}
	if err := e.ensureSchema(ctx, dim); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *PGEngine) ensureSchema(ctx context.Context, dim int) error {
	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			embedding vector(%d) NOT NULL
		)`, pgx.Identifier{e.table}.Sanitize(), dim),
	}
	for _, stmt := range stmts {
		if _, err := e.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (e *PGEngine) Upsert(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("record id is required")
	}
	metadataJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, content, metadata, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET content = EXCLUDED.content, metadata = EXCLUDED.metadata, embedding = EXCLUDED.embedding
	`, pgx.Identifier{e.table}.Sanitize())
	if _, err := e.pool.Exec(ctx, query, rec.ID, rec.Text, metadataJSON, pgvector.NewVector(rec.Vector)); err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

func (e *PGEngine) Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Neighbor, error) {
	if topK <= 0 {
		return nil, nil
	}
	embedding := pgvector.NewVector(vector)
	var query string
	var args []interface{}
	if len(filter) > 0 {
		filterJSON, err := json.Marshal(filter)
		if err != nil {
			return nil, fmt.Errorf("marshal filter: %w", err)
		}
		query = fmt.Sprintf(`
			SELECT id, content, metadata, embedding <=> $1 AS distance
			FROM %s
			WHERE metadata @> $2
			ORDER BY embedding <=> $1
			LIMIT $3
		`, pgx.Identifier{e.table}.Sanitize())
		args = []interface{}{embedding, filterJSON, topK}
	} else {
		query = fmt.Sprintf(`
			SELECT id, content, metadata, embedding <=> $1 AS distance
			FROM %s
			ORDER BY embedding <=> $1
			LIMIT $2
		`, pgx.Identifier{e.table}.Sanitize())
		args = []interface{}{embedding, topK}
	}

	rows, err := e.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("similarity query: %w", err)
	}
	defer rows.Close()

	var out []Neighbor
	for rows.Next() {
		var n Neighbor
		var metadataJSON []byte
		if err := rows.Scan(&n.ID, &n.Text, &metadataJSON, &n.Distance); err != nil {
			return nil, fmt.Errorf("scan neighbor: %w", err)
		}
		if err := json.Unmarshal(metadataJSON, &n.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate neighbors: %w", err)
	}
	return out, nil
}

func (e *PGEngine) Get(ctx context.Context, ids []string) ([]Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
		SELECT id, content, metadata, embedding FROM %s WHERE id = ANY($1)
	`, pgx.Identifier{e.table}.Sanitize())
	return e.scanRecords(ctx, query, ids)
}

func (e *PGEngine) All(ctx context.Context) ([]Record, error) {
	query := fmt.Sprintf(`
		SELECT id, content, metadata, embedding FROM %s
	`, pgx.Identifier{e.table}.Sanitize())
	return e.scanRecords(ctx, query)
}

func (e *PGEngine) scanRecords(ctx context.Context, query string, args ...interface{}) ([]Record, error) {
	rows, err := e.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var metadataJSON []byte
		var emb pgvector.Vector
		if err := rows.Scan(&rec.ID, &rec.Text, &metadataJSON, &emb); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if err := json.Unmarshal(metadataJSON, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
		rec.Vector = emb.Slice()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

func (e *PGEngine) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, pgx.Identifier{e.table}.Sanitize())
	if _, err := e.pool.Exec(ctx, query, ids); err != nil {
		return fmt.Errorf("delete records: %w", err)
	}
	return nil
}

func (e *PGEngine) Count(ctx context.Context) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, pgx.Identifier{e.table}.Sanitize())
	var n int
	if err := e.pool.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}
