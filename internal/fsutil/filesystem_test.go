package fsutil

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
)

func TestOSFileSystem_WriteReadStat(t *testing.T) {
	osfs := OSFileSystem{}
	path := filepath.Join(t.TempDir(), "roster.yaml")

	if err := osfs.WriteFile(path, []byte("tags: []\n"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	data, err := osfs.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "tags: []\n" {
		t.Errorf("unexpected content %q", data)
	}

	info, err := osfs.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size() != int64(len(data)) {
		t.Errorf("expected size %d, got %d", len(data), info.Size())
	}
}

func TestMemoryFileSystem_CopiesData(t *testing.T) {
	mfs := NewMemoryFileSystem()

	buf := []byte("hello")
	if err := mfs.WriteFile("/a/../test.txt", buf, 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	buf[0] = 'j'

	data, err := mfs.ReadFile("/test.txt")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("expected stored copy %q, got %q", "hello", data)
	}
	data[0] = 'y'
	again, _ := mfs.ReadFile("/test.txt")
	if string(again) != "hello" {
		t.Errorf("ReadFile returned shared storage")
	}

	info, err := mfs.Stat("/test.txt")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Name() != "test.txt" || info.Size() != 5 || info.Mode() != 0600 || info.IsDir() {
		t.Errorf("unexpected file info %+v", info)
	}
}

func TestMemoryFileSystem_Missing(t *testing.T) {
	mfs := NewMemoryFileSystem()
	if _, err := mfs.ReadFile("/missing"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ReadFile: expected ErrNotExist, got %v", err)
	}
	if _, err := mfs.Stat("/missing"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Stat: expected ErrNotExist, got %v", err)
	}
}

func TestReadLimited(t *testing.T) {
	mfs := NewMemoryFileSystem()
	_ = mfs.WriteFile("/herd.YAML", []byte("tags: []\n"), 0644)
	_ = mfs.WriteFile("/big.json", []byte(strings.Repeat("x", 65)), 0644)

	if data, err := ReadLimited(mfs, "/herd.YAML", 64, ".yaml", ".yml"); err != nil || string(data) != "tags: []\n" {
		t.Errorf("ReadLimited = %q, %v", data, err)
	}
	if _, err := ReadLimited(mfs, "/herd.YAML", 64, ".json"); err == nil {
		t.Error("expected extension error")
	}
	if _, err := ReadLimited(mfs, "/big.json", 64); !errors.Is(err, ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}
	if _, err := ReadLimited(mfs, "/nope.json", 64, ".json"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}
