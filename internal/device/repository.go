package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines persistence for paired devices.
type Repository interface {
	// GetByID returns ErrDeviceNotFound if the device is not paired.
	GetByID(ctx context.Context, id string) (*Device, error)

	// List returns every paired device ordered by name.
	List(ctx context.Context) ([]Device, error)

	// Create returns ErrDeviceExists if the ID is already paired.
	Create(ctx context.Context, device *Device) error

	// Update changes name, class and model. Returns ErrDeviceNotFound if absent.
	Update(ctx context.Context, device *Device) error

	// Delete returns ErrDeviceNotFound if absent.
	Delete(ctx context.Context, id string) error

	// UpdatePrefs stores loop and shuffle. Returns ErrDeviceNotFound if absent.
	UpdatePrefs(ctx context.Context, id string, prefs Prefs) error
}

// SQLiteRepository implements Repository on the cast_devices table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectDevice = `
	SELECT id, name, class, model, loop, shuffle, created_at, updated_at
	FROM cast_devices`

// GetByID retrieves a paired device.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, selectDevice+" WHERE id = ?", id)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return d, nil
}

// List retrieves all paired devices.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, selectDevice+" ORDER BY name, id")
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// Create inserts a paired device, setting its timestamps.
func (r *SQLiteRepository) Create(ctx context.Context, d *Device) error {
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cast_devices (id, name, class, model, loop, shuffle, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Name, string(d.Class), d.Model,
		boolToInt(d.Loop), boolToInt(d.Shuffle),
		d.CreatedAt.Format(time.RFC3339), d.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// Update modifies name, class and model of a paired device.
func (r *SQLiteRepository) Update(ctx context.Context, d *Device) error {
	d.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE cast_devices SET name = ?, class = ?, model = ?, updated_at = ?
		WHERE id = ?`,
		d.Name, string(d.Class), d.Model, d.UpdatedAt.Format(time.RFC3339), d.ID,
	)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}
	return requireAffected(res)
}

// Delete unpairs a device.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM cast_devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return requireAffected(res)
}

// UpdatePrefs stores loop and shuffle for a paired device.
func (r *SQLiteRepository) UpdatePrefs(ctx context.Context, id string, prefs Prefs) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE cast_devices SET loop = ?, shuffle = ?, updated_at = ?
		WHERE id = ?`,
		boolToInt(prefs.Loop), boolToInt(prefs.Shuffle), time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("updating device prefs: %w", err)
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// rowScanner is implemented by both sql.Row and sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(s rowScanner) (*Device, error) {
	var (
		d                    Device
		class                string
		loop, shuffle        int
		createdAt, updatedAt string
	)
	if err := s.Scan(&d.ID, &d.Name, &class, &d.Model, &loop, &shuffle, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	d.Class = Class(class)
	d.Loop = loop != 0
	d.Shuffle = shuffle != 0
	d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // written by us
	d.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // written by us
	return &d, nil
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks for a SQLite primary key or unique violation.
func isUniqueConstraintError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}
