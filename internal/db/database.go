package db

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type Database struct {
	db *sql.DB
}

type Room struct {
	Code      string
	CreatedAt time.Time
}

func New(dbPath string) (*Database, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	// foreign_keys is per-connection, so it goes in the DSN to cover the
	// whole pool; without it ON DELETE CASCADE never fires.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		return nil, err
	}

	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		code TEXT PRIMARY KEY,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS sync_updates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_code TEXT NOT NULL,
		update_data BLOB NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (room_code) REFERENCES rooms(code) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_sync_updates_room_code ON sync_updates(room_code);

	CREATE TABLE IF NOT EXISTS room_snapshots (
		room_code TEXT PRIMARY KEY,
		snapshot_data BLOB NOT NULL,
		update_count INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (room_code) REFERENCES rooms(code) ON DELETE CASCADE
	);
	`

	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Room operations

func (d *Database) CreateRoom(code string) error {
	_, err := d.db.Exec(
		"INSERT OR IGNORE INTO rooms (code) VALUES (?)",
		code,
	)
	return err
}

func (d *Database) GetRoom(code string) (*Room, error) {
	row := d.db.QueryRow(
		"SELECT code, created_at FROM rooms WHERE code = ?",
		code,
	)

	var room Room
	err := row.Scan(&room.Code, &room.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (d *Database) ListRooms(limit, offset int) ([]Room, error) {
	rows, err := d.db.Query(
		"SELECT code, created_at FROM rooms ORDER BY created_at DESC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		var room Room
		if err := rows.Scan(&room.Code, &room.CreatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func (d *Database) DeleteRoom(code string) error {
	_, err := d.db.Exec("DELETE FROM rooms WHERE code = ?", code)
	return err
}

// Sync update log operations

func (d *Database) SaveUpdate(roomCode string, update []byte) error {
	// Ensure the room row exists for lazily created rooms
	if err := d.CreateRoom(roomCode); err != nil {
		return err
	}

	_, err := d.db.Exec(
		"INSERT INTO sync_updates (room_code, update_data) VALUES (?, ?)",
		roomCode, update,
	)
	return err
}

func (d *Database) GetAllUpdates(roomCode string) ([][]byte, error) {
	rows, err := d.db.Query(
		"SELECT update_data FROM sync_updates WHERE room_code = ? ORDER BY id ASC",
		roomCode,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var updates [][]byte
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		updates = append(updates, data)
	}
	return updates, rows.Err()
}

func (d *Database) GetUpdateCount(roomCode string) (int, error) {
	var count int
	err := d.db.QueryRow(
		"SELECT COUNT(*) FROM sync_updates WHERE room_code = ?",
		roomCode,
	).Scan(&count)
	return count, err
}

// Snapshot operations (for compaction)

func (d *Database) SaveSnapshot(roomCode string, snapshot []byte, updateCount int) error {
	_, err := d.db.Exec(`
		INSERT INTO room_snapshots (room_code, snapshot_data, update_count, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(room_code) DO UPDATE SET
			snapshot_data = excluded.snapshot_data,
			update_count = excluded.update_count,
			updated_at = CURRENT_TIMESTAMP
	`, roomCode, snapshot, updateCount)
	return err
}

func (d *Database) GetSnapshot(roomCode string) ([]byte, int, error) {
	var snapshot []byte
	var updateCount int
	err := d.db.QueryRow(
		"SELECT snapshot_data, update_count FROM room_snapshots WHERE room_code = ?",
		roomCode,
	).Scan(&snapshot, &updateCount)
	if err == sql.ErrNoRows {
		return nil, 0, nil
	}
	return snapshot, updateCount, err
}

func (d *Database) DeleteUpdatesBeforeSnapshot(roomCode string, keepCount int) error {
	// Delete old updates, keeping only the most recent ones after snapshot
	_, err := d.db.Exec(`
		DELETE FROM sync_updates
		WHERE room_code = ? AND id NOT IN (
			SELECT id FROM sync_updates
			WHERE room_code = ?
			ORDER BY id DESC
			LIMIT ?
		)
	`, roomCode, roomCode, keepCount)
	return err
}

// Stats

func (d *Database) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var roomCount int
	if err := d.db.QueryRow("SELECT COUNT(*) FROM rooms").Scan(&roomCount); err != nil {
		return nil, err
	}
	stats["room_count"] = roomCount

	var updateCount int
	if err := d.db.QueryRow("SELECT COUNT(*) FROM sync_updates").Scan(&updateCount); err != nil {
		return nil, err
	}
	stats["update_count"] = updateCount

	return stats, nil
}
