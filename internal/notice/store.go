// Package notice persists one-time notices. A workflow writes its outcome
// messages under an opaque token, redirects the browser with that token, and
// the destination page reads the messages exactly once before they are gone.
package notice

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

var (
	ErrTokenInvalid = errors.New("notice token is invalid")
	ErrTokenExpired = errors.New("notice token is expired")
	ErrTokenUsed    = errors.New("notice token already read")
)

const storeCleanupInterval = 5 * time.Minute
const privateDirPerm = 0o700

func ensureOwnerOnlyDir(dir string) error {
	if err := os.MkdirAll(dir, privateDirPerm); err != nil {
		return err
	}
	return os.Chmod(dir, privateDirPerm)
}

// Store persists one-time notices in SQLite. Tokens are ULIDs handed to the
// caller on write; a token can be consumed exactly once before its TTL.
type Store struct {
	db          *sql.DB
	ttl         time.Duration
	stopCleanup chan struct{}
	mu          sync.Mutex
}

// NewStore opens (or creates) the notice database in dir. Every notice
// written through the store expires ttl after creation.
func NewStore(dir string, ttl time.Duration) (*Store, error) {
	dir = filepath.Clean(dir)
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("dir is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("ttl must be positive")
	}
	if err := ensureOwnerOnlyDir(dir); err != nil {
		return nil, fmt.Errorf("create notice store dir: %w", err)
	}

	dbPath := filepath.Join(dir, "notices.db")
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open notice db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{
		db:          db,
		ttl:         ttl,
		stopCleanup: make(chan struct{}),
	}
	if err := s.initSchema(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, errors.Join(err, fmt.Errorf("close notice db after schema init failure: %w", closeErr))
		}
		return nil, err
	}

	go s.cleanupLoop()
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS notices (
		token TEXT PRIMARY KEY,
		messages TEXT NOT NULL,
		expires_at INTEGER NOT NULL,
		used INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		used_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_notices_expires_at ON notices(expires_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init notice schema: %w", err)
	}
	return nil
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(storeCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.DeleteExpired(time.Now().UTC()); err != nil {
				log.Warn().Err(err).Msg("Failed to delete expired notices")
			}
		case <-s.stopCleanup:
			return
		}
	}
}

// Write stores the messages under a fresh token and returns the token.
func (s *Store) Write(messages ...string) (string, error) {
	if s == nil {
		return "", fmt.Errorf("store not configured")
	}
	if len(messages) == 0 {
		return "", fmt.Errorf("at least one message is required")
	}

	payload, err := json.Marshal(messages)
	if err != nil {
		return "", fmt.Errorf("encode notice messages: %w", err)
	}

	token := ulid.Make().String()
	now := time.Now().UTC()

	s.mu.Lock()
	db := s.db
	if db == nil {
		s.mu.Unlock()
		return "", fmt.Errorf("store not configured")
	}
	defer s.mu.Unlock()
	_, err = db.Exec(
		`INSERT INTO notices (token, messages, expires_at, used, created_at, used_at)
		 VALUES (?, ?, ?, 0, ?, NULL)`,
		token, string(payload), now.Add(s.ttl).Unix(), now.Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("write notice: %w", err)
	}
	return token, nil
}

// Consume atomically reads and invalidates a token. Returns the stored
// messages on success; a second read of the same token fails.
func (s *Store) Consume(token string, now time.Time) ([]string, error) {
	if s == nil || token == "" {
		return nil, ErrTokenInvalid
	}
	now = now.UTC()

	s.mu.Lock()
	db := s.db
	if db == nil {
		s.mu.Unlock()
		return nil, ErrTokenInvalid
	}
	defer s.mu.Unlock()

	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin consume tx: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			log.Warn().Err(rollbackErr).Msg("Failed to rollback notice consume transaction")
		}
	}()

	var payload string
	var expiresAtUnix int64
	var usedInt int

	row := tx.QueryRow(`SELECT messages, expires_at, used FROM notices WHERE token = ?`, token)
	if scanErr := row.Scan(&payload, &expiresAtUnix, &usedInt); scanErr != nil {
		if errors.Is(scanErr, sql.ErrNoRows) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("load notice: %w", scanErr)
	}

	if now.After(time.Unix(expiresAtUnix, 0).UTC()) {
		return nil, ErrTokenExpired
	}
	if usedInt != 0 {
		return nil, ErrTokenUsed
	}

	res, err := tx.Exec(`UPDATE notices SET used = 1, used_at = ? WHERE token = ? AND used = 0`, now.Unix(), token)
	if err != nil {
		return nil, fmt.Errorf("mark notice used: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("get consume update rows affected: %w", err)
	}
	if affected == 0 {
		return nil, ErrTokenUsed
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit consume tx: %w", err)
	}

	var messages []string
	if err := json.Unmarshal([]byte(payload), &messages); err != nil {
		return nil, fmt.Errorf("decode notice messages: %w", err)
	}
	return messages, nil
}

// DeleteExpired removes notices past their expiry time.
func (s *Store) DeleteExpired(now time.Time) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	db := s.db
	if db == nil {
		s.mu.Unlock()
		return nil
	}
	defer s.mu.Unlock()
	if _, err := db.Exec(`DELETE FROM notices WHERE expires_at < ?`, now.UTC().Unix()); err != nil {
		return fmt.Errorf("delete expired notices: %w", err)
	}
	return nil
}

// Close stops the background cleanup goroutine and closes the database.
func (s *Store) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.stopCleanup:
	default:
		close(s.stopCleanup)
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close notice store database")
		}
		s.db = nil
	}
}
