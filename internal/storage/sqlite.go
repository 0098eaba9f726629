package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding user profiles and message rows.
// It plays the authoritative-store role: profile upsert, append-only
// message inserts, ordered reads, and delete-by-owner.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "calmind.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Profiles ---

// UpsertProfile creates or updates the profile for email. Calling it twice
// with different names leaves exactly one row with the latest non-empty
// name applied; an empty companionName never clobbers a stored one.
// The returned bool reports whether the profile already existed.
func (s *Store) UpsertProfile(email, companionName string) (Profile, bool, error) {
	var existed int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM profiles WHERE email = ?", email).Scan(&existed); err != nil {
		return Profile{}, false, err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.Exec(`
		INSERT INTO profiles (email, companion_name, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			companion_name = CASE WHEN excluded.companion_name = '' THEN companion_name ELSE excluded.companion_name END,
			updated_at = excluded.updated_at`,
		email, companionName, now, now,
	)
	if err != nil {
		return Profile{}, false, err
	}

	p, err := s.GetProfile(email)
	if err != nil {
		return Profile{}, false, err
	}
	return p, existed > 0, nil
}

// GetProfile returns the profile for email, or ErrNotFound.
func (s *Store) GetProfile(email string) (Profile, error) {
	var p Profile
	var createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT email, companion_name, created_at, updated_at
		FROM profiles WHERE email = ?`, email,
	).Scan(&p.Email, &p.CompanionName, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, err
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return Profile{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Profile{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return p, nil
}

// SetCompanionName updates the companion display name for an existing profile.
func (s *Store) SetCompanionName(email, name string) error {
	res, err := s.db.Exec(`UPDATE profiles SET companion_name = ?, updated_at = ? WHERE email = ?`,
		name, time.Now().UTC().Format(time.RFC3339Nano), email)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Messages ---

// AppendMessage inserts a single message row.
func (s *Store) AppendMessage(m Message) error {
	created := m.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO messages (id, owner, sender, body, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.Owner, string(m.Sender), m.Body, created.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// LoadHistory returns all messages for owner in ascending created_at order,
// with insertion order (rowid) as the tiebreak. An owner with no rows gets
// an empty slice, not an error.
func (s *Store) LoadHistory(owner string) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT id, owner, sender, body, created_at
		FROM messages WHERE owner = ?
		ORDER BY created_at ASC, rowid ASC`, owner,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []Message{}
	for rows.Next() {
		var m Message
		var sender, createdAt string
		if err := rows.Scan(&m.ID, &m.Owner, &sender, &m.Body, &createdAt); err != nil {
			return nil, err
		}
		m.Sender = Sender(sender)
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

// CountMessages returns the number of stored messages for owner.
func (s *Store) CountMessages(owner string) (int64, error) {
	var n int64
	err := s.db.QueryRow("SELECT COUNT(*) FROM messages WHERE owner = ?", owner).Scan(&n)
	return n, err
}

// DeleteHistory removes every message row for owner and returns the count
// deleted. The owner's profile is left untouched.
func (s *Store) DeleteHistory(owner string) (int64, error) {
	res, err := s.db.Exec("DELETE FROM messages WHERE owner = ?", owner)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		// Older rows may carry second precision.
		return time.Parse(time.RFC3339, v)
	}
	return t, nil
}
