// Package index implements the indexing stage and the search API on an
// embedded SQLite database with an FTS5 full-text table.
package index

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/openlexbr/douflow/internal/metrics"
	"github.com/openlexbr/douflow/internal/pipeline"
)

const schema = `
CREATE TABLE IF NOT EXISTS publicacoes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	pub_id TEXT,
	data_publicacao TEXT NOT NULL,
	secao TEXT NOT NULL,
	numero_pagina INTEGER NOT NULL,
	titulo TEXT NOT NULL,
	resumo TEXT,
	entidades TEXT,
	palavras_chave TEXT,
	tipo_documento TEXT,
	datas_mencionadas TEXT,
	valores_monetarios TEXT,
	numeros_processos TEXT,
	cnpj TEXT,
	cpf TEXT,
	indexado_em DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_publicacoes_data_secao
	ON publicacoes (data_publicacao, secao);

CREATE VIRTUAL TABLE IF NOT EXISTS publicacoes_fts USING fts5(
	titulo, resumo, palavras_chave,
	content='publicacoes', content_rowid='id'
);
`

// Indexer writes organized artifacts into the search index and answers
// full-text queries. It implements pipeline.Indexer.
type Indexer struct {
	db     *sql.DB
	path   string
	clock  pipeline.Clock
	logger *zap.Logger
}

// New opens (or creates) the index database at path.
func New(path string, clock pipeline.Clock, logger *zap.Logger) (*Indexer, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("index path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open index database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply index schema: %w", err)
	}

	return &Indexer{db: db, path: path, clock: clock, logger: logger}, nil
}

// Close closes the database connection.
func (i *Indexer) Close() error {
	return i.db.Close()
}

// Index replaces the indexed rows for the artifact's date and section.
// Re-running the same job is idempotent.
func (i *Indexer) Index(ctx context.Context, organized *pipeline.OrganizedArtifact) (pipeline.IndexAck, error) {
	if err := organized.Validate(); err != nil {
		return pipeline.IndexAck{}, pipeline.NewError(pipeline.KindValidationFailure, pipeline.StageIndex,
			"organized artifact rejected", err)
	}

	start := time.Now()
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return pipeline.IndexAck{}, fmt.Errorf("begin index transaction: %w", err)
	}
	defer tx.Rollback()

	if err := i.deleteExisting(ctx, tx, organized); err != nil {
		return pipeline.IndexAck{}, err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO publicacoes
			(pub_id, data_publicacao, secao, numero_pagina, titulo, resumo,
			 entidades, palavras_chave, tipo_documento,
			 datas_mencionadas, valores_monetarios, numeros_processos, cnpj, cpf,
			 indexado_em)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return pipeline.IndexAck{}, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := i.clock.Now().UTC()
	for _, r := range organized.Rows {
		res, err := stmt.ExecContext(ctx,
			r.ID, r.DataPublicacao, r.Secao, r.NumeroPagina, r.Titulo, r.Resumo,
			r.Entidades, r.PalavrasChave, r.TipoDocumento,
			r.DatasMencionadas, r.ValoresMonetarios, r.NumerosProcessos, r.CNPJ, r.CPF,
			now)
		if err != nil {
			return pipeline.IndexAck{}, fmt.Errorf("insert publication: %w", err)
		}
		rowid, err := res.LastInsertId()
		if err != nil {
			return pipeline.IndexAck{}, fmt.Errorf("publication rowid: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO publicacoes_fts (rowid, titulo, resumo, palavras_chave)
			VALUES (?, ?, ?, ?)
		`, rowid, r.Titulo, r.Resumo, r.PalavrasChave); err != nil {
			return pipeline.IndexAck{}, fmt.Errorf("insert fts row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return pipeline.IndexAck{}, fmt.Errorf("commit index transaction: %w", err)
	}

	took := time.Since(start)
	metrics.AddIndexedPublications(len(organized.Rows))
	i.logger.Info("indexing finished",
		zap.String("date", organized.Data),
		zap.String("section", string(organized.Secao)),
		zap.Int("indexed", len(organized.Rows)),
		zap.Duration("took", took))
	return pipeline.IndexAck{Indexed: len(organized.Rows), Took: took}, nil
}

func (i *Indexer) deleteExisting(ctx context.Context, tx *sql.Tx, organized *pipeline.OrganizedArtifact) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM publicacoes WHERE data_publicacao = ? AND secao IN (?, ?)`,
		organized.Data, string(organized.Secao), string(pipeline.SectionExtra))
	if err != nil {
		return fmt.Errorf("query stale rows: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("scan stale row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate stale rows: %w", err)
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM publicacoes_fts WHERE rowid = ?`, id); err != nil {
			return fmt.Errorf("delete stale fts row: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM publicacoes WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete stale row: %w", err)
		}
	}
	return nil
}

// Query is a full-text search request with optional filters.
type Query struct {
	Text          string
	DataInicio    string
	DataFim       string
	Secao         string
	TipoDocumento string
	Max           int
}

// Hit is one search result with its relevance score.
type Hit struct {
	Score  float64      `json:"score"`
	Source pipeline.Row `json:"source"`
}

// Result is a search response.
type Result struct {
	Total int           `json:"total"`
	Took  time.Duration `json:"took"`
	Hits  []Hit         `json:"hits"`
}

// Search runs a full-text query with optional date, section, and
// document-type filters, ordered by relevance.
func (i *Indexer) Search(ctx context.Context, q Query) (Result, error) {
	if strings.TrimSpace(q.Text) == "" {
		return Result{}, fmt.Errorf("query text is required")
	}
	if q.Max <= 0 {
		q.Max = 10
	}

	var (
		conds = []string{"publicacoes_fts MATCH ?"}
		args  = []any{ftsQuery(q.Text)}
	)
	if q.DataInicio != "" {
		conds = append(conds, "p.data_publicacao >= ?")
		args = append(args, q.DataInicio)
	}
	if q.DataFim != "" {
		conds = append(conds, "p.data_publicacao <= ?")
		args = append(args, q.DataFim)
	}
	if q.Secao != "" {
		conds = append(conds, "p.secao = ?")
		args = append(args, q.Secao)
	}
	if q.TipoDocumento != "" {
		conds = append(conds, "p.tipo_documento = ?")
		args = append(args, q.TipoDocumento)
	}
	args = append(args, q.Max)

	query := fmt.Sprintf(`
		SELECT bm25(publicacoes_fts),
		       p.pub_id, p.data_publicacao, p.secao, p.numero_pagina, p.titulo, p.resumo,
		       p.entidades, p.palavras_chave, p.tipo_documento,
		       p.datas_mencionadas, p.valores_monetarios, p.numeros_processos, p.cnpj, p.cpf
		FROM publicacoes_fts
		JOIN publicacoes p ON p.id = publicacoes_fts.rowid
		WHERE %s
		ORDER BY bm25(publicacoes_fts)
		LIMIT ?
	`, strings.Join(conds, " AND "))

	start := time.Now()
	rows, err := i.db.QueryContext(ctx, query, args...)
	if err != nil {
		return Result{}, fmt.Errorf("search query: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			score float64
			r     pipeline.Row
		)
		if err := rows.Scan(&score,
			&r.ID, &r.DataPublicacao, &r.Secao, &r.NumeroPagina, &r.Titulo, &r.Resumo,
			&r.Entidades, &r.PalavrasChave, &r.TipoDocumento,
			&r.DatasMencionadas, &r.ValoresMonetarios, &r.NumerosProcessos, &r.CNPJ, &r.CPF); err != nil {
			return Result{}, fmt.Errorf("scan search hit: %w", err)
		}
		// bm25 returns lower-is-better; flip it so callers see
		// higher-is-better scores.
		hits = append(hits, Hit{Score: -score, Source: r})
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("iterate search hits: %w", err)
	}

	return Result{Total: len(hits), Took: time.Since(start), Hits: hits}, nil
}

// ftsQuery quotes each term so user input cannot inject FTS5 operators.
func ftsQuery(text string) string {
	terms := strings.Fields(text)
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		quoted = append(quoted, `"`+strings.ReplaceAll(t, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " ")
}
