package doctor_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/go-bytepiece/internal/doctor"
)

var errNoModel = errors.New("malformed model")

func writeFile(t *testing.T, name string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	return path
}

func healthyLoad(string) (doctor.ModelReport, error) {
	return doctor.ModelReport{Size: 80000}, nil
}

func hasFailureContaining(failures []string, sub string) bool {
	for _, f := range failures {
		if strings.Contains(strings.ToLower(f), sub) {
			return true
		}
	}

	return false
}

func TestRun_AllChecksPass(t *testing.T) {
	cfg := doctor.Config{
		GoVersion:         func() (string, error) { return "go1.25.1", nil },
		ModelPath:         writeFile(t, "bytepiece.model"),
		LoadModel:         healthyLoad,
		BaselineModelPath: writeFile(t, "tokenizer.model"),
	}

	var out strings.Builder
	result := doctor.Run(cfg, &out)

	if result.Failed() {
		t.Errorf("expected all checks to pass; failures: %v", result.Failures())
	}

	for _, want := range []string{"go runtime: go1.25.1", "model load: 80000 ids", "all 256 bytes", "baseline model"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}

	if strings.Contains(out.String(), doctor.FailMark) {
		t.Errorf("output contains a failure mark:\n%s", out.String())
	}
}

func TestRun_Failures(t *testing.T) {
	model := writeFile(t, "bytepiece.model")

	tests := []struct {
		name string
		cfg  doctor.Config
		want string
	}{
		{
			name: "old go",
			cfg:  doctor.Config{GoVersion: func() (string, error) { return "go1.21.0", nil }, ModelPath: model},
			want: "go runtime",
		},
		{
			name: "go version unavailable",
			cfg:  doctor.Config{GoVersion: func() (string, error) { return "", errors.New("unknown") }, ModelPath: model},
			want: "go runtime",
		},
		{
			name: "invalid config",
			cfg:  doctor.Config{ConfigErr: errors.New("server.max_text_bytes must be > 0"), ModelPath: model},
			want: "config",
		},
		{
			name: "no model path",
			cfg:  doctor.Config{},
			want: "no path configured",
		},
		{
			name: "model missing",
			cfg:  doctor.Config{ModelPath: filepath.Join(t.TempDir(), "absent.model")},
			want: "model file",
		},
		{
			name: "model fails to load",
			cfg: doctor.Config{ModelPath: model, LoadModel: func(string) (doctor.ModelReport, error) {
				return doctor.ModelReport{}, errNoModel
			}},
			want: "model load",
		},
		{
			name: "byte coverage incomplete",
			cfg: doctor.Config{ModelPath: model, LoadModel: func(string) (doctor.ModelReport, error) {
				return doctor.ModelReport{Size: 10, MissingBytes: 250}, nil
			}},
			want: "coverage",
		},
		{
			name: "baseline missing",
			cfg:  doctor.Config{ModelPath: model, BaselineModelPath: filepath.Join(t.TempDir(), "absent")},
			want: "baseline",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out strings.Builder
			result := doctor.Run(tt.cfg, &out)

			if !result.Failed() {
				t.Fatalf("expected failure; output:\n%s", out.String())
			}

			if !hasFailureContaining(result.Failures(), tt.want) {
				t.Errorf("expected failure mentioning %q, got: %v", tt.want, result.Failures())
			}

			if !strings.Contains(out.String(), doctor.FailMark) {
				t.Errorf("output lacks %s:\n%s", doctor.FailMark, out.String())
			}
		})
	}
}

func TestRun_NoLoaderOnlyChecksFile(t *testing.T) {
	var out strings.Builder
	result := doctor.Run(doctor.Config{ModelPath: writeFile(t, "m.model")}, &out)

	if result.Failed() {
		t.Fatalf("unexpected failures: %v", result.Failures())
	}

	if strings.Contains(out.String(), "model load") {
		t.Errorf("load check ran without a loader:\n%s", out.String())
	}
}

func TestResult_AddFailure(t *testing.T) {
	var r doctor.Result
	if r.Failed() {
		t.Fatal("zero Result must not be failed")
	}

	r.AddFailure("server: unreachable")

	got := r.Failures()
	if len(got) != 1 || got[0] != "server: unreachable" {
		t.Fatalf("Failures() = %v", got)
	}

	got[0] = "mutated"
	if r.Failures()[0] != "server: unreachable" {
		t.Error("Failures() must return a copy")
	}
}
