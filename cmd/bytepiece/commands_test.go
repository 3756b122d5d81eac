package main

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/go-bytepiece/internal/bench"
	"github.com/example/go-bytepiece/internal/doctor"
	"github.com/example/go-bytepiece/internal/testutil"
)

func TestBenchCmd_JSON(t *testing.T) {
	model := testutil.WriteFixtureModel(t, pieces)

	out, err := execute(t, "", "bench", "--model", model, "--sizes", "10,50", "--runs", "2", "--format", "json")
	if err != nil {
		t.Fatalf("bench: %v", err)
	}

	var report struct {
		Series []struct {
			Encoder string `json:"encoder"`
			Chars   int    `json:"chars"`
		} `json:"series"`
	}
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}

	if len(report.Series) != 2 {
		t.Fatalf("got %d series, want 2", len(report.Series))
	}

	for i, want := range []int{10, 50} {
		if s := report.Series[i]; s.Encoder != "bytepiece" || s.Chars != want {
			t.Errorf("series %d = %+v", i, s)
		}
	}
}

func TestBenchCmd_InputFileAndProfile(t *testing.T) {
	model := testutil.WriteFixtureModel(t, pieces)
	dir := t.TempDir()

	input := filepath.Join(dir, "corpus.txt")
	if err := os.WriteFile(input, []byte(strings.Repeat("今天天气不错\n", 20)), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	prof := filepath.Join(dir, "cpu.pprof")

	out, err := execute(t, "", "bench", "--model", model, "--input", input, "--sizes", "30", "--runs", "1", "--cpuprofile", prof)
	if err != nil {
		t.Fatalf("bench: %v", err)
	}

	if !strings.Contains(out, "bytepiece") {
		t.Errorf("table output missing encoder name:\n%s", out)
	}

	if fi, err := os.Stat(prof); err != nil || fi.Size() == 0 {
		t.Errorf("cpu profile not written: %v", err)
	}
}

func TestBenchCmd_Validation(t *testing.T) {
	model := testutil.WriteFixtureModel(t, pieces)

	tests := []struct {
		name string
		args []string
	}{
		{"zero runs", []string{"--runs", "0"}},
		{"bad format", []string{"--format", "csv"}},
		{"non-positive size", []string{"--sizes", "10,0"}},
		{"missing input", []string{"--input", filepath.Join(t.TempDir(), "absent.txt")}},
		{"throughput floor", []string{"--sizes", "10", "--runs", "1", "--min-throughput", "1e12"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"bench", "--model", model}, tt.args...)
			if _, err := execute(t, "", args...); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestBenchCorpus_Builtin(t *testing.T) {
	text, err := benchCorpus("", []int{500})
	if err != nil {
		t.Fatalf("benchCorpus: %v", err)
	}

	if n := len([]rune(text)); n < 500 {
		t.Errorf("corpus has %d chars, want at least 500", n)
	}
}

func TestMeanThroughput(t *testing.T) {
	series := []bench.Series{
		{Encoder: "bytepiece"},
		{Encoder: "sentencepiece"},
	}

	if got := meanThroughput(series, "absent"); got != 0 {
		t.Errorf("meanThroughput(absent) = %v, want 0", got)
	}

	if got := meanThroughput(series, "bytepiece"); got != series[0].MeanThroughput() {
		t.Errorf("meanThroughput = %v, want %v", got, series[0].MeanThroughput())
	}
}

func TestModelInfoCmd(t *testing.T) {
	model := testutil.WriteFixtureModel(t, pieces)

	out, err := execute(t, "", "model", "info", "--model", model)
	if err != nil {
		t.Fatalf("model info: %v", err)
	}

	for _, want := range []string{"sha256:", "ids:            262", "missing bytes:  0"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestModelVerifyCmd(t *testing.T) {
	model := testutil.WriteFixtureModel(t, pieces)

	out, err := execute(t, "", "model", "verify", "--model", model, "--probe", "今天天气不错\n")
	if err != nil {
		t.Fatalf("model verify: %v", err)
	}

	if !strings.Contains(out, "PASS round trip") {
		t.Errorf("output missing round trip line:\n%s", out)
	}
}

func TestModelDownloadCmd(t *testing.T) {
	body, err := os.ReadFile(testutil.WriteFixtureModel(t, pieces))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)

	dest := filepath.Join(t.TempDir(), "dl.model")

	if _, err := execute(t, "", "model", "download", "--url", srv.URL+"/m.model", "--out", dest); err == nil {
		t.Fatal("expected access denied without token")
	}

	t.Setenv(tokenEnv, "tok")

	if _, err := execute(t, "", "model", "download", "--url", srv.URL+"/m.model", "--out", dest); err != nil {
		t.Fatalf("model download: %v", err)
	}

	out, err := execute(t, "", "model", "verify", "--model", dest)
	if err != nil {
		t.Fatalf("verify downloaded model: %v\n%s", err, out)
	}
}

func TestModelDownloadCmd_RequiresURL(t *testing.T) {
	if _, err := execute(t, "", "model", "download"); err == nil {
		t.Fatal("expected error without --url")
	}
}

func TestDoctorCmd(t *testing.T) {
	model := testutil.WriteFixtureModel(t, pieces)

	out, err := execute(t, "", "doctor", "--model", model)
	if err != nil {
		t.Fatalf("doctor: %v\n%s", err, out)
	}

	if !strings.Contains(out, "doctor checks passed") {
		t.Errorf("output missing summary:\n%s", out)
	}

	out, err = execute(t, "", "doctor", "--model", filepath.Join(t.TempDir(), "absent.model"))
	if err == nil {
		t.Fatal("expected doctor failure for missing model")
	}

	if !strings.Contains(out, doctor.FailMark) {
		t.Errorf("output missing failure mark:\n%s", out)
	}
}

func TestHealthCmd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		_, _ = fmt.Fprint(w, `{"status":"ok"}`)
	}))
	t.Cleanup(srv.Close)

	addr := srv.Listener.Addr().String()

	out, err := execute(t, "", "health", "--addr", addr)
	if err != nil {
		t.Fatalf("health: %v", err)
	}

	if strings.TrimSpace(out) != "ok" {
		t.Errorf("output = %q, want ok", out)
	}
}

func TestHealthCmd_Unreachable(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	addr := l.Addr().String()
	_ = l.Close()

	if _, err := execute(t, "", "health", "--addr", addr); err == nil {
		t.Fatal("expected error for unreachable server")
	}
}
