package dsroot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func TestAbsRejectsEscape(t *testing.T) {
	r := New(t.TempDir(), uuid.New())
	if _, err := r.Abs("../escape.txt"); err == nil {
		t.Error("expected error for path escaping dataset root")
	}
	if _, err := r.Abs("/etc/passwd"); err == nil {
		t.Error("expected error for absolute path")
	}
	abs, err := r.Abs("chat_1/photos/ab/cd.jpg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Base(abs) != "cd.jpg" {
		t.Errorf("got %s", abs)
	}
}

func TestHashedRelativePath(t *testing.T) {
	got := HashedRelativePath("chat_1", SubtreePhotos, "abcdef0123", "jpg")
	want := filepath.Join("chat_1", "photos", "ab", "cdef0123.jpg")
	if got != want {
		t.Errorf("got %s want %s", got, want)
	}
}

func TestThumbnailRelativePath(t *testing.T) {
	got := ThumbnailRelativePath(filepath.Join("chat_1", "photos", "ab", "cdef.jpg"))
	want := filepath.Join("chat_1", "photos", "ab", "cdef_thumb.jpg")
	if got != want {
		t.Errorf("got %s want %s", got, want)
	}
}

func TestCopyFileMissingSourceIsNotFatal(t *testing.T) {
	src := New(t.TempDir(), uuid.New())
	dst := New(t.TempDir(), uuid.New())
	if err := CopyFile(src, "chat_1/files/missing.txt", dst, "chat_1/files/missing.txt", SubtreeFiles, nil); err != nil {
		t.Fatalf("missing source should not be fatal: %v", err)
	}
	if dst.Exists("chat_1/files/missing.txt") {
		t.Error("destination should not exist when source was missing")
	}
}

func TestCopyFileNonHashedCollisionDiffers(t *testing.T) {
	src := New(t.TempDir(), uuid.New())
	dst := New(t.TempDir(), uuid.New())

	srcAbs, _ := src.Abs("chat_1/files/report.txt")
	os.MkdirAll(filepath.Dir(srcAbs), 0o755)
	os.WriteFile(srcAbs, []byte("source content"), 0o644)

	dstAbs, _ := dst.Abs("chat_1/files/report.txt")
	os.MkdirAll(filepath.Dir(dstAbs), 0o755)
	os.WriteFile(dstAbs, []byte("different content"), 0o644)

	err := CopyFile(src, "chat_1/files/report.txt", dst, "chat_1/files/report.txt", SubtreeFiles, nil)
	if err == nil {
		t.Fatal("expected error for differing non-hashed collision")
	}
}

func TestCopyFileHashedCollisionSkips(t *testing.T) {
	src := New(t.TempDir(), uuid.New())
	dst := New(t.TempDir(), uuid.New())

	srcAbs, _ := src.Abs("chat_1/photos/ab/cd.jpg")
	os.MkdirAll(filepath.Dir(srcAbs), 0o755)
	os.WriteFile(srcAbs, []byte("photo bytes"), 0o644)

	dstAbs, _ := dst.Abs("chat_1/photos/ab/cd.jpg")
	os.MkdirAll(filepath.Dir(dstAbs), 0o755)
	os.WriteFile(dstAbs, []byte("different bytes entirely"), 0o644)

	if err := CopyFile(src, "chat_1/photos/ab/cd.jpg", dst, "chat_1/photos/ab/cd.jpg", SubtreePhotos, nil); err != nil {
		t.Fatalf("hashed subtree collision should be trusted and skipped: %v", err)
	}
}
