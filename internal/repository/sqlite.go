// Tonbox - Networked NFC Music Box
// Copyright 2026 Tonbox Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tonbox/tonbox

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver (pure Go, no CGO)

	"github.com/tonbox/tonbox/internal/models"
)

// SQLite is the embedded Repository backing the appliance. WAL mode and a
// busy timeout keep the single-file database usable from the coordinator
// worker and the NFC detection path concurrently.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database at path and runs the
// schema migration.
func NewSQLite(path string) (*SQLite, error) {
	// modernc.org/sqlite takes pragmas in _pragma=name(value) form; putting
	// them in the DSN applies them to every pooled connection.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS playlists (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		nfc_tag_uid TEXT UNIQUE
	);

	CREATE TABLE IF NOT EXISTS tracks (
		id TEXT PRIMARY KEY,
		playlist_id TEXT NOT NULL REFERENCES playlists(id) ON DELETE CASCADE,
		track_number INTEGER NOT NULL CHECK(track_number >= 1),
		title TEXT NOT NULL,
		file_path TEXT NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		UNIQUE (playlist_id, track_number)
	);

	CREATE INDEX IF NOT EXISTS idx_tracks_playlist ON tracks(playlist_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SavePlaylist inserts or replaces a playlist and its tracks in one
// transaction. Used by the ingestion collaborators and by tests.
func (s *SQLite) SavePlaylist(ctx context.Context, p *models.Playlist) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	nfc := sql.NullString{String: p.NFCTagUID, Valid: p.NFCTagUID != ""}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO playlists (id, title, nfc_tag_uid) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title, nfc_tag_uid = excluded.nfc_tag_uid
	`, p.ID, p.Title, nfc); err != nil {
		return fmt.Errorf("upsert playlist: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM tracks WHERE playlist_id = ?`, p.ID); err != nil {
		return fmt.Errorf("clear tracks: %w", err)
	}
	for _, t := range p.Tracks {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tracks (id, playlist_id, track_number, title, file_path, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?)
		`, t.ID, p.ID, t.TrackNumber, t.Title, t.FilePath, t.DurationMS); err != nil {
			return fmt.Errorf("insert track %s: %w", t.ID, err)
		}
	}

	return tx.Commit()
}

// FindPlaylistByID implements Repository.
func (s *SQLite) FindPlaylistByID(ctx context.Context, id string) (*models.Playlist, error) {
	return s.findPlaylist(ctx, `SELECT id, title, nfc_tag_uid FROM playlists WHERE id = ?`, id)
}

// FindPlaylistByNFC implements Repository.
func (s *SQLite) FindPlaylistByNFC(ctx context.Context, uid string) (*models.Playlist, error) {
	return s.findPlaylist(ctx, `SELECT id, title, nfc_tag_uid FROM playlists WHERE nfc_tag_uid = ?`, uid)
}

func (s *SQLite) findPlaylist(ctx context.Context, query, arg string) (*models.Playlist, error) {
	var (
		p   models.Playlist
		nfc sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&p.ID, &p.Title, &nfc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query playlist: %w", err)
	}
	p.NFCTagUID = nfc.String

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, track_number, title, file_path, duration_ms
		FROM tracks WHERE playlist_id = ? ORDER BY track_number
	`, p.ID)
	if err != nil {
		return nil, fmt.Errorf("query tracks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var t models.Track
		if err := rows.Scan(&t.ID, &t.TrackNumber, &t.Title, &t.FilePath, &t.DurationMS); err != nil {
			return nil, fmt.Errorf("scan track: %w", err)
		}
		p.Tracks = append(p.Tracks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tracks: %w", err)
	}
	return &p, nil
}

// ListPlaylists implements Repository.
func (s *SQLite) ListPlaylists(ctx context.Context) ([]models.Playlist, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, nfc_tag_uid FROM playlists ORDER BY title`)
	if err != nil {
		return nil, fmt.Errorf("query playlists: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []models.Playlist
	for rows.Next() {
		var (
			p   models.Playlist
			nfc sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Title, &nfc); err != nil {
			return nil, fmt.Errorf("scan playlist: %w", err)
		}
		p.NFCTagUID = nfc.String
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate playlists: %w", err)
	}
	return out, nil
}

// UpdatePlaylistNFC implements Repository. The conflict check and the update
// run in one transaction so no observer sees a UID bound to two playlists.
func (s *SQLite) UpdatePlaylistNFC(ctx context.Context, playlistID, uid string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists string
	err = tx.QueryRowContext(ctx, `SELECT id FROM playlists WHERE id = ?`, playlistID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("query playlist: %w", err)
	}

	if uid != "" {
		var owner string
		err = tx.QueryRowContext(ctx, `SELECT id FROM playlists WHERE nfc_tag_uid = ? AND id != ?`, uid, playlistID).Scan(&owner)
		if err == nil {
			return &ConflictError{TagUID: uid, PlaylistID: owner}
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("query binding: %w", err)
		}
	}

	nfc := sql.NullString{String: uid, Valid: uid != ""}
	if _, err := tx.ExecContext(ctx, `UPDATE playlists SET nfc_tag_uid = ? WHERE id = ?`, nfc, playlistID); err != nil {
		return fmt.Errorf("update binding: %w", err)
	}
	return tx.Commit()
}
