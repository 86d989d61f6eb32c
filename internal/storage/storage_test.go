package storage

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPathSegmentFromURL(t *testing.T) {
	tests := map[string]string{
		"https://example.com/":            "example.com",
		"https://example.com/docs/intro/": "example.com_docs_intro",
		"http://a.test:8080/x?y=1":        "a.test_x",
		"https://example.com/a%20b/c":     "example.com_a-b_c",
		"not a url":                       "unknown",
		"":                                "unknown",
	}
	for in, want := range tests {
		if got := PathSegmentFromURL(in); got != want {
			t.Fatalf("PathSegmentFromURL(%q) = %q; want %q", in, got, want)
		}
	}
}

func TestArchiveAppendsDatedLines(t *testing.T) {
	dir := t.TempDir()
	a := NewArchive(dir, "example.com", 10)
	a.now = func() time.Time { return time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC) }

	for i := 0; i < 3; i++ {
		if err := a.Append(map[string]int{"n": i}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "2026-03-04", "example.com", "har.jsonl"))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer func() { _ = f.Close() }()
	sc := bufio.NewScanner(f)
	n := 0
	for sc.Scan() {
		var rec map[string]int
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("line %d not json: %v", n, err)
		}
		if rec["n"] != n {
			t.Fatalf("line %d = %v", n, rec)
		}
		n++
	}
	if n != 3 {
		t.Fatalf("lines = %d; want 3", n)
	}
}

func TestArchiveRegistryReusesArchives(t *testing.T) {
	r := NewArchiveRegistry(t.TempDir(), 1)
	if r.Get("a") != r.Get("a") {
		t.Fatalf("Get() returned different archives for same segment")
	}
	if r.Get("a") == r.Get("b") {
		t.Fatalf("Get() returned same archive for different segments")
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestWriteFileAtomicAndTouch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "har.json")
	if err := WriteFileAtomic(path, []byte(`{"a":1}`)); err != nil {
		t.Fatalf("WriteFileAtomic() error = %v", err)
	}
	if err := WriteFileAtomic(path, []byte(`{"a":2}`)); err != nil {
		t.Fatalf("WriteFileAtomic() overwrite error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != `{"a":2}` {
		t.Fatalf("ReadFile() = %s, %v", data, err)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("directory has %d entries; want 1 (no temp files left)", len(entries))
	}

	ready := path + ".ready"
	if err := Touch(ready); err != nil {
		t.Fatalf("Touch() error = %v", err)
	}
	if _, err := os.Stat(ready); err != nil {
		t.Fatalf("Stat(ready) error = %v", err)
	}
}
