// Package model fetches and verifies bytepiece model files.
package model

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// LockFileName records the checksum of every model downloaded into a
// directory, so a later download of the same URL must match it.
const LockFileName = "download-manifest.lock.json"

type DownloadOptions struct {
	URL     string
	OutPath string // defaults to the URL's base name in the working directory
	SHA256  string // optional; when empty the lock manifest is trusted
	Token   string // optional bearer token
	Client  *http.Client
	Stdout  io.Writer
}

type ErrAccessDenied struct {
	URL string
	Msg string
}

func (e *ErrAccessDenied) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return fmt.Sprintf("access denied for %s", e.URL)
}

type lockManifest struct {
	Generated string                `json:"generated"`
	Files     map[string]lockRecord `json:"files"`
}

type lockRecord struct {
	URL    string `json:"url"`
	SHA256 string `json:"sha256"`
}

var shaHexPattern = regexp.MustCompile(`(?i)^[a-f0-9]{64}$`)

// Download fetches opts.URL to opts.OutPath. A file already on disk with the
// expected checksum is left alone. Without a pinned checksum the first
// download's checksum is recorded in the lock manifest next to the file.
func Download(ctx context.Context, opts DownloadOptions) (string, error) {
	if opts.URL == "" {
		return "", errors.New("url is required")
	}
	if opts.OutPath == "" {
		name, err := baseName(opts.URL)
		if err != nil {
			return "", err
		}
		opts.OutPath = name
	}
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 0}
	}
	if opts.SHA256 != "" && !isSHA256Hex(opts.SHA256) {
		return "", fmt.Errorf("invalid sha256 %q", opts.SHA256)
	}

	if err := os.MkdirAll(filepath.Dir(opts.OutPath), 0o755); err != nil {
		return "", fmt.Errorf("create out dir: %w", err)
	}

	lockPath := filepath.Join(filepath.Dir(opts.OutPath), LockFileName)
	lock := readLockManifest(lockPath)
	key := filepath.Base(opts.OutPath)

	expected := strings.ToLower(opts.SHA256)
	if expected == "" {
		if lr, ok := lock.Files[key]; ok && lr.URL == opts.URL && isSHA256Hex(lr.SHA256) {
			expected = strings.ToLower(lr.SHA256)
		}
	}

	if expected != "" {
		if ok, err := existingMatches(opts.OutPath, expected); err != nil {
			return "", err
		} else if ok {
			fmt.Fprintf(opts.Stdout, "skip %s (checksum match)\n", opts.OutPath)
			return expected, nil
		}
	}

	fmt.Fprintf(opts.Stdout, "download %s -> %s\n", opts.URL, opts.OutPath)
	actual, err := downloadWithProgress(ctx, opts.Client, opts.URL, opts.Token, opts.OutPath, opts.Stdout)
	if err != nil {
		return "", err
	}
	if expected != "" && actual != expected {
		_ = os.Remove(opts.OutPath)
		return "", fmt.Errorf("checksum mismatch for %s: expected %s got %s", opts.OutPath, expected, actual)
	}
	fmt.Fprintf(opts.Stdout, "verified %s (sha256=%s)\n", opts.OutPath, actual)

	lock.Generated = time.Now().UTC().Format(time.RFC3339)
	lock.Files[key] = lockRecord{URL: opts.URL, SHA256: actual}
	if err := writeLockManifest(lockPath, lock); err != nil {
		return "", err
	}

	return actual, nil
}

func baseName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		return "", fmt.Errorf("cannot derive file name from %q; pass an output path", rawURL)
	}
	return name, nil
}

func existingMatches(path, expected string) (bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat existing file: %w", err)
	}
	if fi.IsDir() {
		return false, fmt.Errorf("expected file at %s, found directory", path)
	}
	actual, err := FileSHA256(path)
	if err != nil {
		return false, err
	}
	return actual == expected, nil
}

func downloadWithProgress(ctx context.Context, client *http.Client, rawURL, token, outPath string, stdout io.Writer) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	setAuth(req, token)

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", &ErrAccessDenied{
			URL: rawURL,
			Msg: fmt.Sprintf("access denied for %s; provide --token", rawURL),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("download failed for %s: %s", rawURL, resp.Status)
	}

	tmp := outPath + ".tmp"
	fh, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	h := sha256.New()
	mw := io.MultiWriter(fh, h)

	var written int64
	buf := make([]byte, 64*1024)
	total := resp.ContentLength
	lastPrint := time.Now()
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			wn, writeErr := mw.Write(buf[:n])
			if writeErr != nil {
				_ = fh.Close()
				_ = os.Remove(tmp)
				return "", fmt.Errorf("write temp file: %w", writeErr)
			}
			written += int64(wn)
			if time.Since(lastPrint) > 700*time.Millisecond {
				if total > 0 {
					pct := float64(written) * 100 / float64(total)
					fmt.Fprintf(stdout, "  progress: %.1f%% (%d/%d bytes)\n", pct, written, total)
				} else {
					fmt.Fprintf(stdout, "  progress: %d bytes\n", written)
				}
				lastPrint = time.Now()
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			_ = fh.Close()
			_ = os.Remove(tmp)
			return "", fmt.Errorf("download read failed: %w", readErr)
		}
	}

	if err := fh.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp, outPath); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("move temp file into place: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func setAuth(req *http.Request, token string) {
	if token == "" {
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)
}

func isSHA256Hex(v string) bool {
	return shaHexPattern.MatchString(v)
}

// FileSHA256 returns the hex SHA-256 of the file at path.
func FileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file for checksum: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("read file for checksum: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func readLockManifest(path string) lockManifest {
	out := lockManifest{Files: map[string]lockRecord{}}

	b, err := os.ReadFile(path)
	if err != nil {
		return out
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return lockManifest{Files: map[string]lockRecord{}}
	}
	if out.Files == nil {
		out.Files = map[string]lockRecord{}
	}
	return out
}

func writeLockManifest(path string, lock lockManifest) error {
	b, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return fmt.Errorf("encode lock manifest: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write lock manifest: %w", err)
	}
	return nil
}
