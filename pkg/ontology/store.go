package ontology

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nerdneilsfield/go-phi-guard/pkg/protect"
)

const schema = `
CREATE TABLE IF NOT EXISTS concepts (
	term_norm      TEXT NOT NULL,
	lang           TEXT NOT NULL,
	term           TEXT NOT NULL,
	preferred_term TEXT NOT NULL,
	concept_id     TEXT NOT NULL DEFAULT '',
	category       TEXT NOT NULL DEFAULT '',
	source         TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (term_norm, lang)
);
`

// Store SQLite 概念库，通常由 UMLS MRCONSO 导入
type Store struct {
	db   *sql.DB
	path string
}

var _ protect.OntologyLookup = (*Store)(nil)

// OpenStore 打开或创建概念库
func OpenStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Close 关闭连接
func (s *Store) Close() error {
	return s.db.Close()
}

// Path 数据库文件路径
func (s *Store) Path() string {
	return s.path
}

// Import 在一个事务内写入条目，已存在的术语被覆盖。返回写入条数。
func (s *Store) Import(ctx context.Context, lang string, entries []Entry) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin import: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO concepts
		(term_norm, lang, term, preferred_term, concept_id, category, source)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare import: %w", err)
	}
	defer stmt.Close()

	lang = normalizeLang(lang)
	n := 0
	for _, e := range entries {
		key := Normalize(e.Term)
		if key == "" || e.PreferredTerm == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, key, lang, e.Term, e.PreferredTerm, e.ConceptID, e.Category, e.Source); err != nil {
			return 0, fmt.Errorf("insert concept: %w", err)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit import: %w", err)
	}
	return n, nil
}

// Count 概念条数
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM concepts`).Scan(&n)
	return n, err
}

// Lookup 实现 protect.OntologyLookup
func (s *Store) Lookup(ctx context.Context, term, lang string) (protect.Concept, bool, error) {
	var c protect.Concept
	err := s.db.QueryRowContext(ctx,
		`SELECT concept_id, preferred_term, category, source FROM concepts WHERE term_norm = ? AND lang = ?`,
		Normalize(term), normalizeLang(lang),
	).Scan(&c.ID, &c.PreferredTerm, &c.Category, &c.Source)
	if errors.Is(err, sql.ErrNoRows) {
		return protect.Concept{}, false, nil
	}
	if err != nil {
		return protect.Concept{}, false, fmt.Errorf("lookup concept: %w", err)
	}
	return c, true, nil
}
