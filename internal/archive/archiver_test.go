package archive

import (
	"bytes"
	"crypto/rand"
	"testing"

	"golang.org/x/crypto/chacha20poly1305"
)

func validConfig() Config {
	key := make([]byte, chacha20poly1305.KeySize)
	return Config{
		Endpoint:  "minio.local:9000",
		AccessKey: "access",
		SecretKey: "secret",
		Bucket:    "submissions",
		Key:       key,
	}
}

func TestNewRejectsMissingEndpoint(t *testing.T) {
	cfg := validConfig()
	cfg.Endpoint = ""
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for missing endpoint")
	}
}

func TestNewRejectsBadKeySize(t *testing.T) {
	cfg := validConfig()
	cfg.Key = []byte("too-short")
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for bad key size")
	}
}

func TestNewAcceptsValidConfig(t *testing.T) {
	cfg := validConfig()
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.bucket != "submissions" {
		t.Fatalf("expected bucket to be set, got %q", a.bucket)
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		t.Fatalf("create aead: %v", err)
	}

	plaintext := []byte("print(1+1)\x00" + "2")
	nonce := make([]byte, aead.NonceSize())
	sealed := aead.Seal(nonce, nonce, plaintext, nil)

	nonceOut, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	opened, err := aead.Open(nil, nonceOut, ciphertext, nil)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("round trip mismatch: got %q want %q", opened, plaintext)
	}
}
