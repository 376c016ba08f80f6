package preflight

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestCheckDirectoryAccess(t *testing.T) {
	dir := t.TempDir()

	result := CheckDirectoryAccess("Scratch root", dir)
	if !result.Passed {
		t.Fatalf("expected pass for %s: %s", dir, result.Detail)
	}

	result = CheckDirectoryAccess("Scratch root", filepath.Join(dir, "absent"))
	if result.Passed {
		t.Fatal("expected failure for missing directory")
	}

	file := filepath.Join(dir, "file")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	result = CheckDirectoryAccess("Scratch root", file)
	if result.Passed {
		t.Fatal("expected failure for non-directory path")
	}
}

func TestCheckBroker(t *testing.T) {
	if result := CheckBroker(context.Background(), fakePinger{}); !result.Passed {
		t.Fatalf("expected pass: %s", result.Detail)
	}
	result := CheckBroker(context.Background(), fakePinger{err: errors.New("connection refused")})
	if result.Passed {
		t.Fatal("expected failure when ping fails")
	}
	if result.Detail != "connection refused" {
		t.Fatalf("unexpected detail %q", result.Detail)
	}
}

func TestCheckService(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	if result := CheckService(context.Background(), "Separator service", healthy.URL); !result.Passed {
		t.Fatalf("expected pass: %s", result.Detail)
	}

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer broken.Close()

	if result := CheckService(context.Background(), "Separator service", broken.URL); result.Passed {
		t.Fatal("expected failure for unhealthy service")
	}

	if result := CheckService(context.Background(), "Separator service", ""); result.Passed {
		t.Fatal("expected failure for missing url")
	}
}

func TestHealthy(t *testing.T) {
	if !Healthy([]Result{{Passed: true}, {Passed: true}}) {
		t.Fatal("all passing should be healthy")
	}
	if Healthy([]Result{{Passed: true}, {Passed: false}}) {
		t.Fatal("one failure should not be healthy")
	}
}
