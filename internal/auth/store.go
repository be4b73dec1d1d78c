package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/HerbHall/fleetwarden/pkg/plugin"
)

var migrations = []plugin.Migration{
	{
		Version:     1,
		Description: "create auth_enrollments table",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS auth_enrollments (
					device_id  TEXT PRIMARY KEY,
					key_hash   TEXT NOT NULL,
					created_at TIMESTAMP NOT NULL
				)`)
			return err
		},
	},
}

// Enrollment is a provisioned device credential record.
type Enrollment struct {
	DeviceID  string
	KeyHash   string
	CreatedAt time.Time
}

// EnrollmentStore provides persistence for device enrollments.
type EnrollmentStore struct {
	db *sql.DB
}

// NewEnrollmentStore creates an EnrollmentStore and runs auth migrations.
func NewEnrollmentStore(ctx context.Context, store plugin.Store) (*EnrollmentStore, error) {
	if err := store.Migrate(ctx, "auth", migrations); err != nil {
		return nil, fmt.Errorf("auth migrations: %w", err)
	}
	return &EnrollmentStore{db: store.DB()}, nil
}

// Enroll provisions a credential for a device. When deviceID is empty a new
// ID is generated. The raw device key is returned exactly once; only its
// bcrypt hash is stored.
func (s *EnrollmentStore) Enroll(ctx context.Context, deviceID string) (id, rawKey string, err error) {
	if deviceID == "" {
		deviceID = uuid.New().String()
	}

	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generate device key: %w", err)
	}
	rawKey = hex.EncodeToString(b)

	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("hash device key: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO auth_enrollments (device_id, key_hash, created_at)
		VALUES (?, ?, ?)`,
		deviceID, string(hash), time.Now().UTC(),
	)
	if err != nil {
		return "", "", fmt.Errorf("store enrollment: %w", err)
	}
	return deviceID, rawKey, nil
}

// VerifyKey checks a raw device key against the stored hash. A missing
// enrollment and a wrong key are indistinguishable to the caller.
func (s *EnrollmentStore) VerifyKey(ctx context.Context, deviceID, rawKey string) error {
	var hash string
	err := s.db.QueryRowContext(ctx,
		`SELECT key_hash FROM auth_enrollments WHERE device_id = ?`, deviceID,
	).Scan(&hash)
	if err == sql.ErrNoRows {
		return failure(FailureInvalid, "unknown device")
	}
	if err != nil {
		return fmt.Errorf("load enrollment: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(rawKey)) != nil {
		return failure(FailureInvalid, "bad device key")
	}
	return nil
}

// Revoke removes a device's enrollment. Existing tokens expire naturally.
func (s *EnrollmentStore) Revoke(ctx context.Context, deviceID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM auth_enrollments WHERE device_id = ?`, deviceID)
	if err != nil {
		return fmt.Errorf("revoke enrollment: %w", err)
	}
	return nil
}
