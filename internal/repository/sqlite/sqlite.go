package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"entitygraph/internal/domain"
	"entitygraph/internal/repository"
)

// Repository implements repository.Repository using SQLite
type Repository struct {
	db *sql.DB
}

var _ repository.Repository = (*Repository)(nil)

// New creates a new SQLite repository. ":memory:" opens a private in-memory
// database.
func New(dbPath string) (*Repository, error) {
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	if dbPath != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	if dbPath == ":memory:" {
		// every connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	repo := &Repository{db: db}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to migrate database")
	}

	return repo, nil
}

func (r *Repository) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entities (
		ref TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		namespace TEXT NOT NULL,
		name TEXT NOT NULL,
		title TEXT,
		data JSON NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS relations (
		source_ref TEXT NOT NULL,
		type TEXT NOT NULL,
		target_ref TEXT NOT NULL,
		PRIMARY KEY (source_ref, type, target_ref),
		FOREIGN KEY (source_ref) REFERENCES entities(ref) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_entities_kind ON entities(kind);
	CREATE INDEX IF NOT EXISTS idx_relations_target ON relations(target_ref);
	`

	_, err := r.db.Exec(schema)
	return err
}

// canonical parses ref into its stored key
func canonical(ref string) (string, error) {
	parsed, err := domain.ParseRef(ref)
	if err != nil {
		return "", err
	}
	return parsed.String(), nil
}

// GetEntity returns the entity with its stitched relations, or
// repository.ErrNotFound.
func (r *Repository) GetEntity(ctx context.Context, ref string) (*domain.Entity, error) {
	e, err := r.FetchEntity(ctx, ref)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, errors.Wrap(repository.ErrNotFound, ref)
	}
	return e, nil
}

// FetchEntity returns the entity, or nil when it does not exist
func (r *Repository) FetchEntity(ctx context.Context, ref string) (*domain.Entity, error) {
	key, err := canonical(ref)
	if err != nil {
		return nil, err
	}

	var row entityRow
	err = r.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE ref = ?`, key,
	).Scan(row.scanArgs()...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query entity %s", key)
	}

	e, err := row.toDomain()
	if err != nil {
		return nil, err
	}

	relations, err := r.relationsOf(ctx, key)
	if err != nil {
		return nil, err
	}
	e.Relations = relations
	return e, nil
}

func (r *Repository) relationsOf(ctx context.Context, key string) ([]domain.Relation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT type, target_ref FROM relations
		WHERE source_ref = ?
		ORDER BY type, target_ref
	`, key)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query relations of %s", key)
	}
	defer rows.Close()

	var out []domain.Relation
	for rows.Next() {
		var rel domain.Relation
		if err := rows.Scan(&rel.Type, &rel.TargetRef); err != nil {
			return nil, errors.Wrap(err, "failed to scan relation")
		}
		out = append(out, rel)
	}
	return out, errors.Wrap(rows.Err(), "error iterating relations")
}

// ListEntities returns all entities, or those of one kind, ordered by
// reference and carrying their stitched relations.
func (r *Repository) ListEntities(ctx context.Context, kind string) ([]*domain.Entity, error) {
	entities, err := r.listRows(ctx, kind)
	if err != nil {
		return nil, err
	}

	relations, err := r.allRelations(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range entities {
		e.Relations = relations[e.Ref().String()]
	}
	return entities, nil
}

// ListDescriptors returns every entity as imported, without stitched
// relations.
func (r *Repository) ListDescriptors(ctx context.Context) ([]*domain.Entity, error) {
	return r.listRows(ctx, "")
}

func (r *Repository) listRows(ctx context.Context, kind string) ([]*domain.Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities`
	var args []any
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, strings.ToLower(kind))
	}
	query += ` ORDER BY ref`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query entities")
	}
	defer rows.Close()

	var entities []*domain.Entity
	for rows.Next() {
		var row entityRow
		if err := rows.Scan(row.scanArgs()...); err != nil {
			return nil, errors.Wrap(err, "failed to scan entity")
		}
		e, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating entities")
	}
	return entities, nil
}

func (r *Repository) allRelations(ctx context.Context) (map[string][]domain.Relation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT source_ref, type, target_ref FROM relations
		ORDER BY source_ref, type, target_ref
	`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query relations")
	}
	defer rows.Close()

	out := make(map[string][]domain.Relation)
	for rows.Next() {
		var source string
		var rel domain.Relation
		if err := rows.Scan(&source, &rel.Type, &rel.TargetRef); err != nil {
			return nil, errors.Wrap(err, "failed to scan relation")
		}
		out[source] = append(out[source], rel)
	}
	return out, errors.Wrap(rows.Err(), "error iterating relations")
}

// Count returns the number of stored entities
func (r *Repository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "failed to count entities")
	}
	return n, nil
}

// UpsertEntities stores descriptors in a single transaction. Relations are
// not touched; see ReplaceRelations.
func (r *Repository) UpsertEntities(ctx context.Context, entities []*domain.Entity) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entities (ref, kind, namespace, name, title, data, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ref) DO UPDATE SET
			kind = excluded.kind,
			namespace = excluded.namespace,
			name = excluded.name,
			title = excluded.title,
			data = excluded.data,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return errors.Wrap(err, "failed to prepare upsert")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, e := range entities {
		args, err := entityInsertArgs(e, now)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return errors.Wrapf(err, "failed to upsert entity %s", e.Ref())
		}
	}

	return errors.Wrap(tx.Commit(), "failed to commit entities")
}

// ReplaceRelations swaps the stored relation set for relations, keyed by
// canonical source reference. Sources that are not stored are skipped.
func (r *Repository) ReplaceRelations(ctx context.Context, relations map[string][]domain.Relation) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM relations`); err != nil {
		return errors.Wrap(err, "failed to clear relations")
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO relations (source_ref, type, target_ref)
		SELECT ?, ?, ? WHERE EXISTS (SELECT 1 FROM entities WHERE ref = ?)
	`)
	if err != nil {
		return errors.Wrap(err, "failed to prepare relation insert")
	}
	defer stmt.Close()

	for source, rels := range relations {
		for _, rel := range rels {
			target := domain.CanonicalRef(rel.TargetRef)
			if _, err := stmt.ExecContext(ctx, source, rel.Type, target, source); err != nil {
				return errors.Wrapf(err, "failed to insert relation %s %s %s", source, rel.Type, target)
			}
		}
	}

	return errors.Wrap(tx.Commit(), "failed to commit relations")
}

// DeleteEntity removes an entity and its outgoing relations. Relations of
// other entities that point at it are left for the next ReplaceRelations.
func (r *Repository) DeleteEntity(ctx context.Context, ref string) error {
	key, err := canonical(ref)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, `DELETE FROM entities WHERE ref = ?`, key)
	if err != nil {
		return errors.Wrapf(err, "failed to delete entity %s", key)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrap(repository.ErrNotFound, key)
	}
	return nil
}

// Clear removes every entity and relation
func (r *Repository) Clear(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	for _, table := range []string{"relations", "entities"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return errors.Wrapf(err, "failed to clear %s", table)
		}
	}
	return errors.Wrap(tx.Commit(), "failed to commit clear")
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}
