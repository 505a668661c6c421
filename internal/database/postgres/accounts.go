package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/facegate/internal/credential"
	"github.com/kozaktomas/facegate/internal/facematch"
)

// AccountRepository stores account records in PostgreSQL with the face
// descriptor in a pgvector column.
type AccountRepository struct {
	pool *Pool
}

// NewAccountRepository creates a new PostgreSQL account repository.
func NewAccountRepository(pool *Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// Get retrieves the record for identifier, or credential.ErrNotFound.
func (r *AccountRepository) Get(ctx context.Context, identifier string) (*credential.AccountRecord, error) {
	query := `
		SELECT identifier, secret_hash, face_descriptor, display_attributes, created_at, updated_at
		FROM accounts
		WHERE key = $1
	`

	rec, err := scanAccount(r.pool.QueryRow(ctx, query, credential.StoreKey(identifier)))
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

	attrs, err := json.Marshal(attributesOrEmpty(record.DisplayAttributes))
	if err != nil {
		return fmt.Errorf("marshal display attributes: %w", err)
	}

	var descriptor any
	if record.FaceDescriptor != nil {
		descriptor = pgvector.NewVector(record.FaceDescriptor.Float32s())
	}

	query := `
		INSERT INTO accounts (key, identifier, secret_hash, face_descriptor, display_attributes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (key) DO UPDATE SET
			identifier = EXCLUDED.identifier,
			secret_hash = EXCLUDED.secret_hash,
			face_descriptor = EXCLUDED.face_descriptor,
			display_attributes = EXCLUDED.display_attributes,
			updated_at = NOW()
	`

	_, err = r.pool.Exec(ctx, query,
		credential.StoreKey(record.Identifier),
		credential.NormalizeIdentifier(record.Identifier),
		record.SecretHash,
		descriptor,
		string(attrs),
	)
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

// List returns every record that carries a face descriptor.
func (r *AccountRepository) List(ctx context.Context) ([]*credential.AccountRecord, error) {
	query := `
		SELECT identifier, secret_hash, face_descriptor, display_attributes, created_at, updated_at
		FROM accounts
		WHERE face_descriptor IS NOT NULL
		ORDER BY identifier
	`

	rows, err := r.pool.Query(ctx, query)
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
	err = r.pool.QueryRow(ctx,
		"SELECT COUNT(*), COUNT(face_descriptor) FROM accounts",
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
	var vec sql.Null[pgvector.Vector]
	var attrs []byte

	if err := row.Scan(
		&rec.Identifier,
		&rec.SecretHash,
		&vec,
		&attrs,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if vec.Valid {
		rec.FaceDescriptor = facematch.Descriptor(vec.V.Slice())
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &rec.DisplayAttributes); err != nil {
			return nil, fmt.Errorf("unmarshal display attributes: %w", err)
		}
	}
	return &rec, nil
}

func attributesOrEmpty(attrs map[string]string) map[string]string {
	if attrs == nil {
		return map[string]string{}
	}
	return attrs
}
