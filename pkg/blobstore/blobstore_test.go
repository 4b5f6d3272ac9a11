package blobstore

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mcclellann/vsla/pkg/apperr"
)

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create file store: %v", err)
	}

	if err := Write(ctx, fs, "proofs/abc/receipt.pdf", strings.NewReader("payment")); err != nil {
		t.Fatalf("Failed to write blob: %v", err)
	}
	b, err := fs.Get(ctx, "proofs/abc/receipt.pdf")
	if err != nil {
		t.Fatalf("Failed to read blob: %v", err)
	}
	if string(b) != "payment" {
		t.Errorf("Expected %q, got %q", "payment", b)
	}

	if err := fs.Delete(ctx, "proofs/abc/receipt.pdf"); err != nil {
		t.Fatalf("Failed to delete blob: %v", err)
	}
	if _, err := fs.Get(ctx, "proofs/abc/receipt.pdf"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	fs, _ := NewFileStore(t.TempDir())
	if _, err := fs.Put(context.Background(), "../escape"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("Expected traversal key to be rejected, got %v", err)
	}
}
