// Package archive persists encrypted copies of submitted code and results to
// object storage for later inspection. Writes are asynchronous and
// best-effort: an archiver failure never affects a submission's response.
package archive

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/Potat-Industries/eval-server/internal/common/storage"
	"github.com/Potat-Industries/eval-server/pkg/utils/logger"
)

// Config holds object storage and encryption settings for the archiver.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	// Key is a 32-byte chacha20poly1305 key.
	Key []byte
}

// Record is one archived submission.
type Record struct {
	ID     string
	Code   string
	Result string
}

type aead interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	NonceSize() int
}

// Archiver encrypts and uploads Records to a MinIO bucket, reusing the
// one-shot PutObject/GetObject path of the underlying object store rather
// than its multipart, presigned-URL upload flow: a submission blob is
// always small and always written server-side.
type Archiver struct {
	store  *storage.MinIOStorage
	bucket string
	aead   aead
}

func New(cfg Config) (*Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	if len(cfg.Key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("archive encryption key must be %d bytes", chacha20poly1305.KeySize)
	}

	store, err := storage.NewMinIOStorage(storage.MinIOConfig{
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		UseSSL:    cfg.UseSSL,
		Bucket:    cfg.Bucket,
	})
	if err != nil {
		return nil, err
	}

	sealer, err := chacha20poly1305.New(cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("create aead failed: %w", err)
	}

	return &Archiver{store: store, bucket: cfg.Bucket, aead: sealer}, nil
}

// Store encrypts record and uploads it asynchronously, keyed by record.ID.
// Failures are logged, never surfaced: archiving must not affect a
// submission's result.
func (a *Archiver) Store(ctx context.Context, record Record) {
	if a == nil || a.store == nil {
		return
	}

	go func() {
		plaintext := []byte(record.Code + "\x00" + record.Result)

		nonce := make([]byte, a.aead.NonceSize())
		if _, err := rand.Read(nonce); err != nil {
			logger.Warn(ctx, "archive nonce generation failed")
			return
		}
		sealed := a.aead.Seal(nonce, nonce, plaintext, nil)

		reader := readCloser{Reader: bytes.NewReader(sealed)}
		if err := a.store.PutObject(context.Background(), a.bucket, objectKey(record.ID), reader, int64(len(sealed)), "application/octet-stream"); err != nil {
			logger.Warn(ctx, "archive upload failed")
		}
	}()
}

// Fetch downloads and decrypts a previously archived record's raw bytes.
func (a *Archiver) Fetch(ctx context.Context, id string) ([]byte, error) {
	obj, err := a.store.GetObject(ctx, a.bucket, objectKey(id))
	if err != nil {
		return nil, fmt.Errorf("archive fetch failed: %w", err)
	}
	defer func() { _ = obj.Close() }()

	sealed, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("archive read failed: %w", err)
	}

	nonceSize := a.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("archive payload truncated")
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]

	return a.aead.Open(nil, nonce, ciphertext, nil)
}

func objectKey(id string) string {
	return "submissions/" + id + ".bin"
}

// readCloser adapts a bytes.Reader to storage.ObjectReader, which requires
// Close in addition to Read.
type readCloser struct {
	*bytes.Reader
}

func (readCloser) Close() error { return nil }
