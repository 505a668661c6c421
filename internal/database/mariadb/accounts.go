package mariadb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/facegate/internal/credential"
	"github.com/kozaktomas/facegate/internal/facematch"
)

// AccountRepository stores account records in MariaDB. The face descriptor
// is kept as a JSON list [d1, d2, ..., d128].
type AccountRepository struct {
	pool *Pool
	now  func() time.Time
}

// NewAccountRepository creates a new MariaDB account repository.
func NewAccountRepository(pool *Pool) *AccountRepository {
	return &AccountRepository{pool: pool, now: time.Now}
}

// Get retrieves the record for identifier, or credential.ErrNotFound.
func (r *AccountRepository) Get(ctx context.Context, identifier string) (*credential.AccountRecord, error) {
	query := "SELECT identifier, secret_hash, face_descriptor, display_attributes, created_at, updated_at FROM accounts WHERE `key` = ?"

	rec, err := scanAccount(r.pool.db.QueryRowContext(ctx, query, credential.StoreKey(identifier)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credential.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}
	return rec, nil
}

// Put upserts the whole record. created_at survives overwrites.
func (r *AccountRepository) Put(ctx context.Context, record *credential.AccountRecord) error {
	if err := credential.Validate(record); err != nil {
		return err
	}

	attrs := record.DisplayAttributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("marshal display attributes: %w", err)
	}

	var descriptor sql.NullString
	if record.FaceDescriptor != nil {
		data, err := json.Marshal(record.FaceDescriptor.Float32s())
		if err != nil {
			return fmt.Errorf("marshal face descriptor: %w", err)
		}
		descriptor = sql.NullString{String: string(data), Valid: true}
	}

	now := r.now().UTC()
	query := "INSERT INTO accounts (`key`, identifier, secret_hash, face_descriptor, display_attributes, created_at, updated_at) " +
		"VALUES (?, ?, ?, ?, ?, ?, ?) " +
		"ON DUPLICATE KEY UPDATE identifier = VALUES(identifier), secret_hash = VALUES(secret_hash), " +
		"face_descriptor = VALUES(face_descriptor), display_attributes = VALUES(display_attributes), updated_at = VALUES(updated_at)"

	_, err = r.pool.db.ExecContext(ctx, query,
		credential.StoreKey(record.Identifier),
		credential.NormalizeIdentifier(record.Identifier),
		record.SecretHash,
		descriptor,
		string(attrsJSON),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

// List returns every record that carries a face descriptor.
func (r *AccountRepository) List(ctx context.Context) ([]*credential.AccountRecord, error) {
	query := "SELECT identifier, secret_hash, face_descriptor, display_attributes, created_at, updated_at " +
		"FROM accounts WHERE enrolled = 1 ORDER BY identifier"

	rows, err := r.pool.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []*credential.AccountRecord
	for rows.Next() {
		rec, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return out, nil
}

// Count returns the number of stored accounts and how many are enrolled.
func (r *AccountRepository) Count(ctx context.Context) (total, enrolled int, err error) {
	err = r.pool.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(enrolled), 0) FROM accounts",
	).Scan(&total, &enrolled)
	if err != nil {
		return 0, 0, fmt.Errorf("count accounts: %w", err)
	}
	return total, enrolled, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*credential.AccountRecord, error) {
	var rec credential.AccountRecord
	var descriptor sql.NullString
	var attrs string

	if err := row.Scan(
		&rec.Identifier,
		&rec.SecretHash,
		&descriptor,
		&attrs,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if descriptor.Valid {
		var values []float32
		if err := json.Unmarshal([]byte(descriptor.String), &values); err != nil {
			return nil, fmt.Errorf("unmarshal face descriptor: %w", err)
		}
		rec.FaceDescriptor = facematch.Descriptor(values)
	}
	if attrs != "" {
		if err := json.Unmarshal([]byte(attrs), &rec.DisplayAttributes); err != nil {
			return nil, fmt.Errorf("unmarshal display attributes: %w", err)
		}
	}
	return &rec, nil
}
