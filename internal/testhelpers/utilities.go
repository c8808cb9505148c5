package testhelpers

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// AssertJSONField decodes body as a JSON object and compares one top-level field.
// Both sides are compared in their encoded form, so 7200 matches 7200.0.
func AssertJSONField(t *testing.T, body []byte, field string, want interface{}) {
	t.Helper()

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		t.Fatalf("response is not a JSON object: %v", err)
	}
	raw, ok := obj[field]
	if !ok {
		t.Errorf("expected field %q in %s", field, body)
		return
	}

	var got interface{}
	_ = json.Unmarshal(raw, &got)
	gotJSON, _ := json.Marshal(got)
	wantJSON, _ := json.Marshal(want)
	if string(gotJSON) != string(wantJSON) {
		t.Errorf("field %q: expected %s, got %s", field, wantJSON, gotJSON)
	}
}

// WriteRunbookDir writes each name/content pair into a fresh temp directory and
// returns its path
func WriteRunbookDir(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir for %s: %v", name, err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

// RunConcurrently starts workers goroutines running fn and fails the test if they
// have not all returned within timeout
func RunConcurrently(t *testing.T, timeout time.Duration, workers int, fn func(worker int)) {
	t.Helper()

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(worker int) {
			defer wg.Done()
			fn(worker)
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatalf("%d workers did not finish within %v", workers, timeout)
	}
}
