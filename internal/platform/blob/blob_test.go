package blob

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/zeitwise/detox-backend/internal/platform/logger"
)

func TestLocalStorePutAndPublicURL(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(logger.Nop(), dir, "https://cdn.example.com/")
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	if err := s.Put(context.Background(), "memes/abc.json", bytes.NewBufferString(`{"a":1}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, "memes", "abc.json"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(raw) != `{"a":1}` {
		t.Fatalf("content: got=%q", raw)
	}
	if got := s.PublicURL("memes/abc.json"); got != "https://cdn.example.com/memes/abc.json" {
		t.Fatalf("PublicURL: got=%q", got)
	}
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	s, err := NewLocalStore(logger.Nop(), t.TempDir(), "")
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	if err := s.Put(context.Background(), "../escape.txt", bytes.NewBufferString("x")); err == nil {
		t.Fatalf("expected traversal to be rejected")
	}
}

func TestContentTypeForKey(t *testing.T) {
	cases := map[string]string{
		"a.png":  "image/png",
		"a.JSON": "application/json",
		"a.bin":  "application/octet-stream",
	}
	for key, want := range cases {
		if got := contentTypeForKey(key); got != want {
			t.Errorf("%s: got %q want %q", key, got, want)
		}
	}
}
