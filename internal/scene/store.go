// Package scene provides the persistent catalog of named lighting presets.
// A scene pairs a full five-channel state with the fade duration used when
// the scene is applied.
package scene

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/fadectl/internal/light"
)

// MaxScenes bounds the catalog size.
const MaxScenes = 32

var (
	// ErrNotFound is returned when no scene with the given name exists.
	ErrNotFound = errors.New("scene not found")
	// ErrCatalogFull is returned when saving a new scene would exceed MaxScenes.
	ErrCatalogFull = fmt.Errorf("scene catalog full (max %d scenes)", MaxScenes)
)

// Scene is a named lighting preset.
type Scene struct {
	Name     string        `json:"name"`
	State    light.State   `json:"state"`
	FadeTime time.Duration `json:"fade_ms"`
	Position int           `json:"position"`
}

// Store is the SQLite-backed scene catalog.
type Store struct {
	db *sql.DB
}

// NewStore creates a scene store using the provided database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Save inserts the scene or updates an existing scene with the same name.
// New scenes are appended at the end of the catalog ordering.
func (s *Store) Save(sc Scene) error {
	if sc.Name == "" {
		return fmt.Errorf("scene name must not be empty")
	}

	now := time.Now().UTC().Unix()

	exists, err := s.exists(sc.Name)
	if err != nil {
		return err
	}

	if exists {
		_, err = s.db.Exec(`
			UPDATE scenes
			SET brightness = ?, red = ?, green = ?, blue = ?, white = ?, fade_ms = ?, updated_at = ?
			WHERE name = ?
		`, sc.State.Brightness, sc.State.Red, sc.State.Green, sc.State.Blue, sc.State.White,
			sc.FadeTime.Milliseconds(), now, sc.Name)
		if err != nil {
			return fmt.Errorf("failed to update scene: %w", err)
		}
		log.Debug().Str("scene", sc.Name).Msg("Scene updated")
		return nil
	}

	count, err := s.Count()
	if err != nil {
		return err
	}
	if count >= MaxScenes {
		return ErrCatalogFull
	}

	_, err = s.db.Exec(`
		INSERT INTO scenes (name, brightness, red, green, blue, white, fade_ms, position, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, COALESCE((SELECT MAX(position) FROM scenes), 0) + 1, ?, ?)
	`, sc.Name, sc.State.Brightness, sc.State.Red, sc.State.Green, sc.State.Blue, sc.State.White,
		sc.FadeTime.Milliseconds(), now, now)
	if err != nil {
		return fmt.Errorf("failed to insert scene: %w", err)
	}

	log.Debug().Str("scene", sc.Name).Msg("Scene saved")
	return nil
}

// Get returns the scene with the given name.
func (s *Store) Get(name string) (Scene, error) {
	row := s.db.QueryRow(`
		SELECT name, brightness, red, green, blue, white, fade_ms, position
		FROM scenes WHERE name = ?
	`, name)
	return s.scan(row)
}

// First returns the scene with the lowest position, used for boot
// auto-apply.
func (s *Store) First() (Scene, error) {
	row := s.db.QueryRow(`
		SELECT name, brightness, red, green, blue, white, fade_ms, position
		FROM scenes ORDER BY position ASC LIMIT 1
	`)
	return s.scan(row)
}

// List returns all scenes in catalog order.
func (s *Store) List() ([]Scene, error) {
	rows, err := s.db.Query(`
		SELECT name, brightness, red, green, blue, white, fade_ms, position
		FROM scenes ORDER BY position ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list scenes: %w", err)
	}
	defer rows.Close()

	var scenes []Scene
	for rows.Next() {
		sc, err := scanScene(rows.Scan)
		if err != nil {
			return nil, err
		}
		scenes = append(scenes, sc)
	}
	return scenes, rows.Err()
}

// Delete removes a scene by name. Returns ErrNotFound if it does not exist.
func (s *Store) Delete(name string) error {
	result, err := s.db.Exec(`DELETE FROM scenes WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete scene: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	log.Debug().Str("scene", name).Msg("Scene deleted")
	return nil
}

// Count returns the number of stored scenes.
func (s *Store) Count() (int, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM scenes`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count scenes: %w", err)
	}
	return count, nil
}

// Clear removes all scenes.
func (s *Store) Clear() error {
	_, err := s.db.Exec(`DELETE FROM scenes`)
	if err != nil {
		return fmt.Errorf("failed to clear scenes: %w", err)
	}
	return nil
}

func (s *Store) exists(name string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM scenes WHERE name = ?`, name).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check scene existence: %w", err)
	}
	return true, nil
}

func (s *Store) scan(row *sql.Row) (Scene, error) {
	sc, err := scanScene(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Scene{}, ErrNotFound
	}
	return sc, err
}

func scanScene(scan func(dest ...any) error) (Scene, error) {
	var sc Scene
	var fadeMs int64
	err := scan(&sc.Name, &sc.State.Brightness, &sc.State.Red, &sc.State.Green,
		&sc.State.Blue, &sc.State.White, &fadeMs, &sc.Position)
	if err != nil {
		return Scene{}, err
	}
	sc.FadeTime = time.Duration(fadeMs) * time.Millisecond
	return sc, nil
}
