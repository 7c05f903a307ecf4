package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dag-hammarskjold-library/dlx-sub000/internal/filter"
	"github.com/rs/zerolog"
)

const countersTable = "_counters"

// SQLiteStore keeps each collection in its own table of JSON documents.
//
//	CREATE TABLE "<coll>" (id TEXT PRIMARY KEY, doc TEXT NOT NULL)
//
// id is the JSON encoding of the document's _id. Filters are compiled to
// json_each sub-selects; filters that cannot be pushed down are evaluated
// in-process over a full scan of the collection.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	log    zerolog.Logger
	tables sync.Map // collection -> struct{}
}

// SQLiteOption configures an SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithLogger sets the store's logger.
func WithLogger(l zerolog.Logger) SQLiteOption {
	return func(s *SQLiteStore) { s.log = l }
}

// OpenSQLite opens (creating if needed) the database file at path.
func OpenSQLite(path string, opts ...SQLiteOption) (*SQLiteStore, error) {
	if err := registerFunctions(); err != nil {
		return nil, err
	}
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	s := &SQLiteStore{db: db, path: path, log: zerolog.Nop()}
	for _, o := range opts {
		o(s)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS "` + countersTable + `" (name TEXT PRIMARY KEY, seq INTEGER NOT NULL)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create counters table: %w", err)
	}
	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

func quoteIdent(name string) string { return `"` + name + `"` }

func (s *SQLiteStore) ensureTable(coll string) error {
	if _, ok := s.tables.Load(coll); ok {
		return nil
	}
	if err := checkCollection(coll); err != nil {
		return err
	}
	q := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, doc TEXT NOT NULL)", quoteIdent(coll))
	if _, err := s.db.Exec(q); err != nil {
		return fmt.Errorf("create collection %s: %w", coll, err)
	}
	s.tables.Store(coll, struct{}{})
	return nil
}

func (s *SQLiteStore) Get(coll string, id any) (Document, error) {
	if err := s.ensureTable(coll); err != nil {
		return nil, err
	}
	key, err := encodeID(id)
	if err != nil {
		return nil, err
	}
	var raw string
	err = s.db.QueryRow("SELECT doc FROM "+quoteIdent(coll)+" WHERE id = ?", key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", coll, key, err)
	}
	return decodeDoc(raw)
}

func (s *SQLiteStore) Find(coll string, f filter.Filter, opts FindOptions) (Cursor, error) {
	if err := s.ensureTable(coll); err != nil {
		return nil, err
	}
	where, args, err := compileWhere(f)
	var pushdown errNoPushdown
	if errors.As(err, &pushdown) {
		s.log.Debug().Str("collection", coll).Str("filter", f.String()).Msg("filter not pushed down; scanning collection")
		return s.scan(coll, f, opts)
	}
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT doc FROM %s WHERE %s ORDER BY ", quoteIdent(coll), where)
	for _, k := range opts.Sort {
		fmt.Fprintf(&b, "json_extract(doc, '%s')", jsonPath(k.Path))
		if k.Desc {
			b.WriteString(" DESC")
		}
		b.WriteString(", ")
	}
	b.WriteString(`json_extract(doc, '$."_id"'), id`)
	if opts.Limit > 0 || opts.Skip > 0 {
		limit := opts.Limit
		if limit <= 0 {
			limit = -1
		}
		fmt.Fprintf(&b, " LIMIT %d OFFSET %d", limit, opts.Skip)
	}

	rows, err := s.db.Query(b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", coll, err)
	}
	return &rowsCursor{rows: rows, projection: opts.Projection}, nil
}

// scan evaluates f in-process over every document in coll.
func (s *SQLiteStore) scan(coll string, f filter.Filter, opts FindOptions) (Cursor, error) {
	rows, err := s.db.Query("SELECT doc FROM " + quoteIdent(coll))
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", coll, err)
	}
	defer func() { _ = rows.Close() }()

	var docs []Document
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", coll, err)
		}
		doc, err := decodeDoc(raw)
		if err != nil {
			return nil, err
		}
		ok, err := filter.Match(doc, f)
		if err != nil {
			return nil, err
		}
		if ok {
			docs = append(docs, doc)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", coll, err)
	}
	sortDocs(docs, append(append([]SortKey{}, opts.Sort...), SortKey{Path: "_id"}))
	docs = window(docs, opts.Skip, opts.Limit)
	for i, d := range docs {
		docs[i] = project(d, opts.Projection)
	}
	return newSliceCursor(docs), nil
}

func (s *SQLiteStore) Count(coll string, f filter.Filter) (int, error) {
	if err := s.ensureTable(coll); err != nil {
		return 0, err
	}
	where, args, err := compileWhere(f)
	var pushdown errNoPushdown
	if errors.As(err, &pushdown) {
		c, err := s.scan(coll, f, FindOptions{Projection: []string{"_id"}})
		if err != nil {
			return 0, err
		}
		docs, err := All(c)
		return len(docs), err
	}
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRow("SELECT count(*) FROM "+quoteIdent(coll)+" WHERE "+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", coll, err)
	}
	return n, nil
}

const upsertSQL = "INSERT INTO %s (id, doc) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET doc = excluded.doc"

func (s *SQLiteStore) Upsert(coll string, doc Document) error {
	if err := s.ensureTable(coll); err != nil {
		return err
	}
	key, err := encodeID(doc["_id"])
	if err != nil {
		return err
	}
	raw, err := encodeDoc(doc)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(fmt.Sprintf(upsertSQL, quoteIdent(coll)), key, raw); err != nil {
		return fmt.Errorf("upsert %s/%s: %w", coll, key, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(coll string, id any) error {
	if err := s.ensureTable(coll); err != nil {
		return err
	}
	key, err := encodeID(id)
	if err != nil {
		return err
	}
	res, err := s.db.Exec("DELETE FROM "+quoteIdent(coll)+" WHERE id = ?", key)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", coll, key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Increment(counter string) (int64, error) {
	var seq int64
	err := s.db.QueryRow(`INSERT INTO "`+countersTable+`" (name, seq) VALUES (?, 1)
		ON CONFLICT(name) DO UPDATE SET seq = seq + 1 RETURNING seq`, counter).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("increment %s: %w", counter, err)
	}
	return seq, nil
}

// BulkWrite applies ops in a single transaction.
func (s *SQLiteStore) BulkWrite(coll string, ops []WriteOp) error {
	if len(ops) == 0 {
		return nil
	}
	if err := s.ensureTable(coll); err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("bulk write %s: begin: %w", coll, err)
	}
	defer func() { _ = tx.Rollback() }() // no-op after commit

	up, err := tx.Prepare(fmt.Sprintf(upsertSQL, quoteIdent(coll)))
	if err != nil {
		return fmt.Errorf("bulk write %s: %w", coll, err)
	}
	defer func() { _ = up.Close() }()
	del, err := tx.Prepare("DELETE FROM " + quoteIdent(coll) + " WHERE id = ?")
	if err != nil {
		return fmt.Errorf("bulk write %s: %w", coll, err)
	}
	defer func() { _ = del.Close() }()

	for i, op := range ops {
		if op.Upsert != nil {
			key, err := encodeID(op.Upsert["_id"])
			if err != nil {
				return fmt.Errorf("bulk write %s: op %d: %w", coll, i, err)
			}
			raw, err := encodeDoc(op.Upsert)
			if err != nil {
				return fmt.Errorf("bulk write %s: op %d: %w", coll, i, err)
			}
			if _, err := up.Exec(key, raw); err != nil {
				return fmt.Errorf("bulk write %s: op %d: %w", coll, i, err)
			}
			continue
		}
		key, err := encodeID(op.DeleteID)
		if err != nil {
			return fmt.Errorf("bulk write %s: op %d: %w", coll, i, err)
		}
		if _, err := del.Exec(key); err != nil {
			return fmt.Errorf("bulk write %s: op %d: %w", coll, i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("bulk write %s: commit: %w", coll, err)
	}
	return nil
}

// EnsureIndex creates an expression index over the given paths. Paths that
// pass through arrays cannot be indexed this way and are skipped.
func (s *SQLiteStore) EnsureIndex(coll string, idx Index) error {
	if err := s.ensureTable(coll); err != nil {
		return err
	}
	if err := checkCollection(idx.Name); err != nil {
		return fmt.Errorf("index name: %w", err)
	}
	cols := make([]string, 0, len(idx.Paths))
	for _, p := range idx.Paths {
		col := fmt.Sprintf("json_extract(doc, '%s')", jsonPath(p))
		if idx.CaseInsensitive {
			col += " COLLATE NOCASE"
		}
		cols = append(cols, col)
	}
	if len(cols) == 0 {
		return nil
	}
	q := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
		quoteIdent(coll+"__"+idx.Name), quoteIdent(coll), strings.Join(cols, ", "))
	if _, err := s.db.Exec(q); err != nil {
		return fmt.Errorf("ensure index %s on %s: %w", idx.Name, coll, err)
	}
	return nil
}

func (s *SQLiteStore) Drop(coll string) error {
	if err := checkCollection(coll); err != nil {
		return err
	}
	if _, err := s.db.Exec("DROP TABLE IF EXISTS " + quoteIdent(coll)); err != nil {
		return fmt.Errorf("drop %s: %w", coll, err)
	}
	s.tables.Delete(coll)
	return nil
}

func (s *SQLiteStore) Collections() ([]string, error) {
	rows, err := s.db.Query(`SELECT name FROM sqlite_master WHERE type = 'table'
		AND name NOT LIKE 'sqlite_%' AND name != ? ORDER BY name`, countersTable)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// rowsCursor streams documents from an open result set.
type rowsCursor struct {
	rows       *sql.Rows
	projection []string
	cur        Document
	err        error
}

func (c *rowsCursor) Next() bool {
	if c.err != nil || !c.rows.Next() {
		c.cur = nil
		return false
	}
	var raw string
	if err := c.rows.Scan(&raw); err != nil {
		c.err = err
		return false
	}
	doc, err := decodeDoc(raw)
	if err != nil {
		c.err = err
		return false
	}
	c.cur = project(doc, c.projection)
	return true
}

func (c *rowsCursor) Doc() Document { return c.cur }

func (c *rowsCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.rows.Err()
}

func (c *rowsCursor) Close() error { return c.rows.Close() }
