package mmapfile

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteTempSyncThenRenameSyncIsVisibleAfterRename(t *testing.T) {
	dir := t.TempDir()
	finalPath := filepath.Join(dir, "chunk.dat")
	data := []byte("chunk contents")

	tempPath, err := WriteTempSync(dir, "*.dat", data)
	if err != nil {
		t.Fatalf("WriteTempSync: %v", err)
	}
	if _, err := os.Stat(finalPath); err == nil {
		t.Fatalf("finalPath exists before RenameSync")
	}

	if err := RenameSync(dir, tempPath, finalPath); err != nil {
		t.Fatalf("RenameSync: %v", err)
	}
	if _, err := os.Stat(tempPath); !os.IsNotExist(err) {
		t.Fatalf("tempPath still exists after RenameSync: %v", err)
	}

	got, err := os.ReadFile(finalPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("finalPath contents = %q, want %q", got, data)
	}
}

func TestOpenReadOnlyRejectsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.dat")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := OpenReadOnly(path); err == nil {
		t.Fatalf("OpenReadOnly(empty file) = nil error, want error")
	}
}

func TestOpenReadOnlyMapsContents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.dat")
	want := []byte("mapped bytes")
	if err := os.WriteFile(path, want, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	m, err := OpenReadOnly(path)
	if err != nil {
		t.Fatalf("OpenReadOnly: %v", err)
	}
	defer m.Close()

	if !bytes.Equal(m.Bytes(), want) {
		t.Fatalf("Bytes() = %q, want %q", m.Bytes(), want)
	}
}
