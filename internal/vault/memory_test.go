package vault

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"wsundo/internal/history"
)

func TestMemoryVault_PutAndGetContent(t *testing.T) {
	vault := NewMemoryVault("test-vault")

	tests := []struct {
		name     string
		checksum string
		content  string
		wantErr  bool
	}{
		{
			name:     "store and retrieve content",
			checksum: "abc123",
			content:  "hello world",
			wantErr:  false,
		},
		{
			name:     "store empty content",
			checksum: "empty",
			content:  "",
			wantErr:  false,
		},
		{
			name:     "store large content",
			checksum: "large",
			content:  strings.Repeat("x", 10000),
			wantErr:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Put content
			r := strings.NewReader(tt.content)
			err := vault.PutContent(tt.checksum, r, int64(len(tt.content)))
			if (err != nil) != tt.wantErr {
				t.Errorf("PutContent() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if tt.wantErr {
				return
			}

			// Get content
			var buf bytes.Buffer
			err = vault.GetContent(tt.checksum, &buf)
			if err != nil {
				t.Errorf("GetContent() unexpected error: %v", err)
				return
			}

			if got := buf.String(); got != tt.content {
				t.Errorf("GetContent() = %q, want %q", got, tt.content)
			}
		})
	}
}

func TestMemoryVault_PutContentIdempotent(t *testing.T) {
	vault := NewMemoryVault("test-vault")

	content := "test content"
	checksum := "test-checksum"

	// Store same content twice
	for i := 0; i < 2; i++ {
		r := strings.NewReader(content)
		err := vault.PutContent(checksum, r, int64(len(content)))
		if err != nil {
			t.Fatalf("PutContent() iteration %d error: %v", i+1, err)
		}
	}

	// Should still retrieve the content
	var buf bytes.Buffer
	err := vault.GetContent(checksum, &buf)
	if err != nil {
		t.Fatalf("GetContent() error: %v", err)
	}

	if got := buf.String(); got != content {
		t.Errorf("GetContent() = %q, want %q", got, content)
	}
}

func TestMemoryVault_GetContentNotFound(t *testing.T) {
	vault := NewMemoryVault("test-vault")

	var buf bytes.Buffer
	err := vault.GetContent("nonexistent", &buf)
	if err == nil {
		t.Error("GetContent() expected error for nonexistent checksum, got nil")
	}
}

func TestMemoryVault_PutContentSizeMismatch(t *testing.T) {
	vault := NewMemoryVault("test-vault")

	content := "test"
	r := strings.NewReader(content)
	// Pass wrong size
	err := vault.PutContent("checksum", r, int64(len(content)+10))
	if err == nil {
		t.Error("PutContent() expected error for size mismatch, got nil")
	}
}

func TestMemoryVault_HasAndDeleteContent(t *testing.T) {
	vault := NewMemoryVault("test-vault")

	if ok, _ := vault.HasContent("abc"); ok {
		t.Fatal("HasContent() = true before PutContent")
	}
	if err := vault.PutContent("abc", strings.NewReader("x"), 1); err != nil {
		t.Fatalf("PutContent() error: %v", err)
	}
	if ok, _ := vault.HasContent("abc"); !ok {
		t.Fatal("HasContent() = false after PutContent")
	}
	if got := vault.ContentCount(); got != 1 {
		t.Errorf("ContentCount() = %d, want 1", got)
	}

	if err := vault.DeleteContent("abc"); err != nil {
		t.Fatalf("DeleteContent() error: %v", err)
	}
	if err := vault.DeleteContent("abc"); err != nil {
		t.Fatalf("second DeleteContent() error: %v", err)
	}

	var buf bytes.Buffer
	if err := vault.GetContent("abc", &buf); !errors.Is(err, history.ErrContentNotFound) {
		t.Errorf("GetContent() after delete error = %v, want ErrContentNotFound", err)
	}
}

func TestMemoryVault_PutAndGetMetadata(t *testing.T) {
	vault := NewMemoryVault("test-vault")

	metadata := "database content"
	hostID := "host-123"

	r := strings.NewReader(metadata)
	if err := vault.PutMetadata(hostID, "db", r, int64(len(metadata)), 3); err != nil {
		t.Fatalf("PutMetadata() error: %v", err)
	}

	var buf bytes.Buffer
	if err := vault.GetMetadata(hostID, "db", &buf); err != nil {
		t.Fatalf("GetMetadata() error: %v", err)
	}
	if got := buf.String(); got != metadata {
		t.Errorf("GetMetadata() = %q, want %q", got, metadata)
	}

	version, err := vault.GetMetadataVersion(hostID, "db")
	if err != nil {
		t.Fatalf("GetMetadataVersion() error: %v", err)
	}
	if version != 3 {
		t.Errorf("GetMetadataVersion() = %d, want 3", version)
	}

	// Names are independent.
	if err := vault.GetMetadata(hostID, "public_key", &buf); err == nil {
		t.Error("GetMetadata() expected error for a name never stored")
	}
}

func TestMemoryVault_GetMetadataNotFound(t *testing.T) {
	vault := NewMemoryVault("test-vault")

	var buf bytes.Buffer
	err := vault.GetMetadata("nonexistent-host", "db", &buf)
	if err == nil {
		t.Error("GetMetadata() expected error for nonexistent host, got nil")
	}

	version, err := vault.GetMetadataVersion("nonexistent-host", "db")
	if err != nil || version != 0 {
		t.Errorf("GetMetadataVersion() = %d, %v; want 0, nil", version, err)
	}
}

func TestMemoryVault_ValidateSetup(t *testing.T) {
	vault := NewMemoryVault("test-vault")

	err := vault.ValidateSetup()
	if err != nil {
		t.Errorf("ValidateSetup() unexpected error: %v", err)
	}
}
