// Package archive uploads finalized trade artifacts to object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/rimuz-hub/Tether-Middleman/internal/export"
	"github.com/rimuz-hub/Tether-Middleman/internal/ticket"
)

// Config describes the object storage target.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Service stores receipts and ticket snapshots under <bucket>/tickets/<id>/.
type Service struct {
	client *minio.Client
	bucket string
}

// New connects to object storage and ensures the bucket exists.
func New(ctx context.Context, cfg Config) (*Service, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object storage: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &Service{client: client, bucket: cfg.Bucket}, nil
}

// StoreReceipt uploads a rendered receipt for a ticket.
func (s *Service) StoreReceipt(ctx context.Context, ticketID string, receipt *export.Result) error {
	if s == nil || receipt == nil {
		return nil
	}
	key := path.Join("tickets", ticketID, receipt.Filename)
	return s.put(ctx, key, receipt.Data, receipt.MimeType)
}

// StoreSnapshot uploads the final ticket state as JSON.
func (s *Service) StoreSnapshot(ctx context.Context, t ticket.Ticket) error {
	if s == nil {
		return nil
	}
	payload, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	key := path.Join("tickets", t.ID, "ticket.json")
	return s.put(ctx, key, payload, "application/json")
}

func (s *Service) put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	log.Printf("archive: stored %s (%d bytes)", key, len(data))
	return nil
}
