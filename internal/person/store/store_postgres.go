package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"dogfight/internal/person/models"
	"dogfight/internal/person/search"
	id "dogfight/pkg/domain"
	"dogfight/pkg/platform/sentinel"
)

const (
	uniqueViolation        = "23505"
	nicknameConstraint     = "pessoas_apelido_unique"
	defaultPostgresWriteTO = 5 * time.Second
)

// schema is applied by EnsureSchema. Statements are idempotent; there is no
// migration history.
var schema = []string{
	`CREATE EXTENSION IF NOT EXISTS pg_trgm`,
	`CREATE TABLE IF NOT EXISTS pessoas (
		id          UUID PRIMARY KEY,
		apelido     VARCHAR(32) NOT NULL,
		nome        VARCHAR(100) NOT NULL,
		nascimento  DATE NOT NULL,
		stack       VARCHAR(32)[],
		search_text TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT pessoas_apelido_unique UNIQUE (apelido)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pessoas_search_text ON pessoas USING GIN (search_text gin_trgm_ops)`,
}

const personColumns = `id, apelido, nome, nascimento, stack, search_text, created_at`

// PostgresStore persists persons in the pessoas table. Nickname uniqueness is
// the database's unique constraint, so concurrent inserts race inside
// PostgreSQL rather than in a check-then-insert here.
type PostgresStore struct {
	db           *sql.DB
	writeTimeout time.Duration
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithWriteTimeout bounds inserts, which run detached from caller cancellation.
func WithWriteTimeout(d time.Duration) PostgresOption {
	return func(s *PostgresStore) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// NewPostgres constructs a PostgreSQL-backed person store.
func NewPostgres(db *sql.DB, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{db: db, writeTimeout: defaultPostgresWriteTO}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// EnsureSchema creates the extension, table and search index if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// CreateIfNicknameAvailable inserts p. The insert is detached from the
// caller's cancellation: once started it commits or fails as a whole.
func (s *PostgresStore) CreateIfNicknameAvailable(ctx context.Context, p *models.Person) error {
	if p == nil {
		return fmt.Errorf("person is required")
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
	defer cancel()

	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pessoas (`+personColumns+`)
		VALUES ($1, $2, $3, $4::date, $5, $6, $7)
	`, p.ID.String(), p.Nickname, p.Name, p.BirthDate.String(), pq.Array(p.Stack), p.SearchText, createdAt)
	if err != nil {
		if isNicknameViolation(err) {
			return fmt.Errorf("nickname %q: %w", p.Nickname, sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("insert person: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, personID id.PersonID) (*models.Person, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+personColumns+` FROM pessoas WHERE id = $1`, personID.String())
	p, err := scanPerson(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find person: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) FindByNickname(ctx context.Context, nickname string) (*models.Person, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+personColumns+` FROM pessoas WHERE apelido = $1`, nickname)
	p, err := scanPerson(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find person by nickname: %w", err)
	}
	return p, nil
}

// Search matches the folded term with LIKE so the trigram index can serve it.
// A limit <= 0 means no limit.
func (s *PostgresStore) Search(ctx context.Context, term string, limit int) ([]*models.Person, error) {
	if search.SpansFields(term) {
		return nil, nil
	}
	query := `SELECT ` + personColumns + ` FROM pessoas WHERE search_text LIKE $1 ESCAPE '\'`
	args := []any{search.LikePattern(search.Fold(term))}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search persons: %w", err)
	}
	defer rows.Close()

	var results []*models.Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		results = append(results, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate persons: %w", err)
	}
	return results, nil
}

func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pessoas`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count persons: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPerson(row rowScanner) (*models.Person, error) {
	var (
		rawID      uuid.UUID
		p          models.Person
		birth      time.Time
		stack      pq.StringArray
		searchText string
	)
	if err := row.Scan(&rawID, &p.Nickname, &p.Name, &birth, &stack, &searchText, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.ID = id.PersonID(rawID)
	p.BirthDate = models.DateOf(birth)
	if len(stack) > 0 {
		p.Stack = []string(stack)
	}
	p.SearchText = searchText
	return &p, nil
}

func isNicknameViolation(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == uniqueViolation && pqErr.Constraint == nicknameConstraint
}
