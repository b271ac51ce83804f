package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"partnerpay/internal/core/apperror"
	"partnerpay/internal/core/id"
	"partnerpay/internal/domain/payout"
)

// Attachment is a document stored next to its owner (payout statements,
// exported reports). Content is always zstd-compressed at rest.
type Attachment struct {
	ID        id.ID     `db:"id"`
	OwnerType string    `db:"owner_type"`
	OwnerID   id.ID     `db:"owner_id"`
	Name      string    `db:"name"`
	Content   []byte    `db:"content"`
	RawSize   int64     `db:"raw_size"`
	CreatedAt time.Time `db:"created_at"`
}

// AttachmentStore persists attachments in the database.
type AttachmentStore struct {
	txManager *TxManager
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
}

var _ payout.AttachmentStore = (*AttachmentStore)(nil)

// NewAttachmentStore creates a new attachment store.
func NewAttachmentStore(txManager *TxManager) (*AttachmentStore, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &AttachmentStore{
		txManager: txManager,
		encoder:   encoder,
		decoder:   decoder,
	}, nil
}

// Attach stores content under the owner.
func (s *AttachmentStore) Attach(ctx context.Context, ownerType string, ownerID id.ID, name string, content []byte) error {
	compressed := s.encoder.EncodeAll(content, nil)

	sql := `
		INSERT INTO sys_attachments (id, owner_type, owner_id, name, content, raw_size, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.txManager.GetQuerier(ctx).Exec(ctx, sql,
		id.New(), ownerType, ownerID, name, compressed, int64(len(content)), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

// Get retrieves a decompressed attachment by owner and name. The newest
// attachment wins when the same name was stored more than once.
func (s *AttachmentStore) Get(ctx context.Context, ownerType string, ownerID id.ID, name string) (*Attachment, error) {
	sql := `
		SELECT id, owner_type, owner_id, name, content, raw_size, created_at
		FROM sys_attachments
		WHERE owner_type = $1 AND owner_id = $2 AND name = $3
		ORDER BY created_at DESC
		LIMIT 1
	`

	var a Attachment
	row := s.txManager.GetQuerier(ctx).QueryRow(ctx, sql, ownerType, ownerID, name)
	if err := row.Scan(&a.ID, &a.OwnerType, &a.OwnerID, &a.Name, &a.Content, &a.RawSize, &a.CreatedAt); err != nil {
		return nil, apperror.NewNotFound("attachment", name).WithCause(err)
	}

	decompressed, err := s.decoder.DecodeAll(a.Content, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress attachment: %w", err)
	}
	a.Content = decompressed

	return &a, nil
}

// ListNames lists attachment names for an owner.
func (s *AttachmentStore) ListNames(ctx context.Context, ownerType string, ownerID id.ID) ([]string, error) {
	sql := `
		SELECT DISTINCT name FROM sys_attachments
		WHERE owner_type = $1 AND owner_id = $2
		ORDER BY name
	`

	rows, err := s.txManager.GetQuerier(ctx).Query(ctx, sql, ownerType, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
