package model

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

const payload = `{"YQ==": [3, "a", 1]}`

func sumOf(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

func newModelServer(t *testing.T, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var hits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)

		if r.URL.Path == "/private.model" && r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		if r.URL.Path == "/missing.model" {
			http.NotFound(w, r)
			return
		}

		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	return srv, &hits
}

func TestDownload_WritesFileAndLock(t *testing.T) {
	srv, _ := newModelServer(t, payload)
	out := filepath.Join(t.TempDir(), "models", "tiny.model")

	var log strings.Builder

	sum, err := Download(context.Background(), DownloadOptions{URL: srv.URL + "/tiny.model", OutPath: out, Stdout: &log})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}

	if sum != sumOf(payload) {
		t.Errorf("sha256 = %s, want %s", sum, sumOf(payload))
	}

	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if string(got) != payload {
		t.Errorf("file content = %q", got)
	}

	lock := readLockManifest(filepath.Join(filepath.Dir(out), LockFileName))
	if rec := lock.Files["tiny.model"]; rec.SHA256 != sum || rec.URL != srv.URL+"/tiny.model" {
		t.Errorf("lock record = %+v", rec)
	}

	if !strings.Contains(log.String(), "verified") {
		t.Errorf("progress output missing verification line: %q", log.String())
	}
}

func TestDownload_SkipsWhenLockMatches(t *testing.T) {
	srv, hits := newModelServer(t, payload)
	out := filepath.Join(t.TempDir(), "tiny.model")
	opts := DownloadOptions{URL: srv.URL + "/tiny.model", OutPath: out}

	if _, err := Download(context.Background(), opts); err != nil {
		t.Fatalf("first Download: %v", err)
	}

	if _, err := Download(context.Background(), opts); err != nil {
		t.Fatalf("second Download: %v", err)
	}

	if n := hits.Load(); n != 1 {
		t.Errorf("server hit %d times, want 1", n)
	}
}

func TestDownload_LockedChecksumMismatch(t *testing.T) {
	srv, _ := newModelServer(t, "changed upstream")
	dir := t.TempDir()
	out := filepath.Join(dir, "tiny.model")

	lock := lockManifest{Files: map[string]lockRecord{
		"tiny.model": {URL: srv.URL + "/tiny.model", SHA256: sumOf(payload)},
	}}
	if err := writeLockManifest(filepath.Join(dir, LockFileName), lock); err != nil {
		t.Fatalf("writeLockManifest: %v", err)
	}

	_, err := Download(context.Background(), DownloadOptions{URL: srv.URL + "/tiny.model", OutPath: out})
	if err == nil || !strings.Contains(err.Error(), "checksum mismatch") {
		t.Fatalf("error = %v, want checksum mismatch", err)
	}

	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Error("mismatched download must not be left in place")
	}
}

func TestDownload_PinnedChecksum(t *testing.T) {
	srv, _ := newModelServer(t, payload)
	out := filepath.Join(t.TempDir(), "tiny.model")

	if _, err := Download(context.Background(), DownloadOptions{
		URL: srv.URL + "/tiny.model", OutPath: out, SHA256: strings.ToUpper(sumOf(payload)),
	}); err != nil {
		t.Fatalf("Download with matching pin: %v", err)
	}

	_, err := Download(context.Background(), DownloadOptions{
		URL: srv.URL + "/tiny.model", OutPath: filepath.Join(t.TempDir(), "other.model"), SHA256: sumOf("nope"),
	})
	if err == nil {
		t.Fatal("expected checksum mismatch for wrong pin")
	}
}

func TestDownload_AccessDenied(t *testing.T) {
	srv, _ := newModelServer(t, payload)
	dir := t.TempDir()

	_, err := Download(context.Background(), DownloadOptions{URL: srv.URL + "/private.model", OutPath: filepath.Join(dir, "p.model")})

	var denied *ErrAccessDenied
	if !errors.As(err, &denied) {
		t.Fatalf("error = %v, want *ErrAccessDenied", err)
	}

	if _, err := Download(context.Background(), DownloadOptions{
		URL: srv.URL + "/private.model", OutPath: filepath.Join(dir, "p.model"), Token: "secret",
	}); err != nil {
		t.Fatalf("Download with token: %v", err)
	}
}

func TestDownload_Errors(t *testing.T) {
	srv, _ := newModelServer(t, payload)
	dir := t.TempDir()

	tests := []struct {
		name string
		opts DownloadOptions
	}{
		{"missing url", DownloadOptions{OutPath: filepath.Join(dir, "x")}},
		{"bad sha", DownloadOptions{URL: srv.URL + "/tiny.model", OutPath: filepath.Join(dir, "x"), SHA256: "abc"}},
		{"not found", DownloadOptions{URL: srv.URL + "/missing.model", OutPath: filepath.Join(dir, "x")}},
		{"no file name", DownloadOptions{URL: srv.URL + "/"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Download(context.Background(), tt.opts); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestDownload_CancelledContext(t *testing.T) {
	srv, _ := newModelServer(t, payload)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Download(ctx, DownloadOptions{URL: srv.URL + "/tiny.model", OutPath: filepath.Join(t.TempDir(), "t.model")})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestReadLockManifest_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), LockFileName)
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	lock := readLockManifest(path)
	if lock.Files == nil || len(lock.Files) != 0 {
		t.Errorf("corrupt lock should read as empty, got %+v", lock)
	}
}

func TestIsSHA256Hex(t *testing.T) {
	if !isSHA256Hex(sumOf("x")) {
		t.Error("valid digest rejected")
	}

	for _, bad := range []string{"", "abc", strings.Repeat("g", 64)} {
		if isSHA256Hex(bad) {
			t.Errorf("isSHA256Hex(%q) = true", bad)
		}
	}
}
