package banlog

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/iwanhae/tcp-guard/types"
)

// SQLite stores block history in a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at dataSourceName.
func NewSQLite(dataSourceName string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("open ban database: %w", err)
	}
	// sqlite serializes writers; a single connection avoids SQLITE_BUSY
	// between concurrent handlers.
	db.SetMaxOpenConns(1)
	return &SQLite{db: db}, nil
}

// Init creates the bans table.
func (s *SQLite) Init() error {
	const createTableSQL = `
	CREATE TABLE IF NOT EXISTS bans (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ip TEXT NOT NULL,
		reason TEXT NOT NULL,
		banned_at INTEGER NOT NULL,
		banned_until INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS bans_ip ON bans(ip);`
	if _, err := s.db.Exec(createTableSQL); err != nil {
		return fmt.Errorf("create bans table: %w", err)
	}
	return nil
}

// SaveBan appends a block event.
func (s *SQLite) SaveBan(ban *types.Ban) error {
	const insertSQL = `INSERT INTO bans(ip, reason, banned_at, banned_until) VALUES(?, ?, ?, ?)`
	if _, err := s.db.Exec(insertSQL, ban.IP, ban.Reason, ban.At.UnixNano(), ban.Until.UnixNano()); err != nil {
		return fmt.Errorf("save ban for %s: %w", ban.IP, err)
	}
	return nil
}

// ListBans returns up to limit events, oldest first.
func (s *SQLite) ListBans(limit int) ([]*types.Ban, error) {
	const query = `SELECT ip, reason, banned_at, banned_until FROM bans ORDER BY id DESC LIMIT ?`
	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("query bans: %w", err)
	}
	defer rows.Close()

	var bans []*types.Ban
	for rows.Next() {
		var (
			ban       types.Ban
			at, until int64
		)
		if err := rows.Scan(&ban.IP, &ban.Reason, &at, &until); err != nil {
			return nil, fmt.Errorf("scan ban: %w", err)
		}
		ban.At = time.Unix(0, at)
		ban.Until = time.Unix(0, until)
		bans = append(bans, &ban)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bans: %w", err)
	}

	// fetched newest first
	for i, j := 0, len(bans)-1; i < j; i, j = i+1, j-1 {
		bans[i], bans[j] = bans[j], bans[i]
	}
	return bans, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
