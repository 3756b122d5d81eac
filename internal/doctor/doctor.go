// Package doctor provides environment preflight checks for bytepiece.
package doctor

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// PassMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	FailMark = "✗"
)

// MinGoMinor is the oldest Go 1.x release the module supports.
const MinGoMinor = 23

// VersionFunc returns a version string or an error if the component is unavailable.
type VersionFunc func() (string, error)

// ModelReport is what LoadModel returns for a healthy model.
type ModelReport struct {
	Size         int
	MissingBytes int
}

// Config holds injectable dependencies for each doctor check.
type Config struct {
	// GoVersion returns the runtime version, e.g. "go1.25.1".
	GoVersion VersionFunc
	// ConfigErr is the result of validating the active configuration.
	ConfigErr error
	// ModelPath is the bytepiece model the tokenizer will load.
	ModelPath string
	// LoadModel parses the model at a path.
	LoadModel func(path string) (ModelReport, error)
	// BaselineModelPath is an optional SentencePiece model used by bench.
	BaselineModelPath string
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// AddFailure appends an external failure message to the result.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) fail(msg string) { r.failures = append(r.failures, msg) }

// Run executes all configured checks and writes human-readable output to w.
// Each check line is prefixed with PassMark or FailMark.
func Run(cfg Config, w io.Writer) Result {
	var res Result

	// ---- Go runtime -------------------------------------------------------
	if cfg.GoVersion != nil {
		ver, err := cfg.GoVersion()
		if err != nil {
			res.fail(fmt.Sprintf("go runtime: %v", err))
			fmt.Fprintf(w, "%s go runtime: unknown (%v)\n", FailMark, err)
		} else if goErr := checkGoVersion(ver); goErr != nil {
			res.fail(fmt.Sprintf("go runtime: %v", goErr))
			fmt.Fprintf(w, "%s go runtime %s: %v\n", FailMark, ver, goErr)
		} else {
			fmt.Fprintf(w, "%s go runtime: %s\n", PassMark, ver)
		}
	}

	// ---- configuration ----------------------------------------------------
	if cfg.ConfigErr != nil {
		res.fail(fmt.Sprintf("config: %v", cfg.ConfigErr))
		fmt.Fprintf(w, "%s config: %v\n", FailMark, cfg.ConfigErr)
	} else {
		fmt.Fprintf(w, "%s config: valid\n", PassMark)
	}

	// ---- model ------------------------------------------------------------
	checkModel(&res, cfg, w)

	// ---- baseline model ---------------------------------------------------
	if cfg.BaselineModelPath != "" {
		if _, err := os.Stat(cfg.BaselineModelPath); err != nil {
			res.fail(fmt.Sprintf("baseline model %q: %v", cfg.BaselineModelPath, err))
			fmt.Fprintf(w, "%s baseline model %s: not found\n", FailMark, cfg.BaselineModelPath)
		} else {
			fmt.Fprintf(w, "%s baseline model: %s\n", PassMark, cfg.BaselineModelPath)
		}
	}

	return res
}

func checkModel(res *Result, cfg Config, w io.Writer) {
	if cfg.ModelPath == "" {
		res.fail("model: no path configured")
		fmt.Fprintf(w, "%s model: no path configured\n", FailMark)

		return
	}

	if _, err := os.Stat(cfg.ModelPath); err != nil {
		res.fail(fmt.Sprintf("model file %q: %v", cfg.ModelPath, err))
		fmt.Fprintf(w, "%s model file %s: not found\n", FailMark, cfg.ModelPath)

		return
	}

	fmt.Fprintf(w, "%s model file: %s\n", PassMark, cfg.ModelPath)

	if cfg.LoadModel == nil {
		return
	}

	rep, err := cfg.LoadModel(cfg.ModelPath)
	if err != nil {
		res.fail(fmt.Sprintf("model load: %v", err))
		fmt.Fprintf(w, "%s model load: %v\n", FailMark, err)

		return
	}

	fmt.Fprintf(w, "%s model load: %d ids\n", PassMark, rep.Size)

	if rep.MissingBytes > 0 {
		res.fail(fmt.Sprintf("model coverage: %d single-byte tokens missing", rep.MissingBytes))
		fmt.Fprintf(w, "%s model coverage: %d single-byte tokens missing\n", FailMark, rep.MissingBytes)
	} else {
		fmt.Fprintf(w, "%s model coverage: all 256 bytes\n", PassMark)
	}
}

// checkGoVersion returns an error if ver is not Go 1.MinGoMinor or newer.
// ver is expected to look like runtime.Version(), e.g. "go1.25.1".
func checkGoVersion(ver string) error {
	major, minor, err := parseMajorMinor(strings.TrimPrefix(ver, "go"))
	if err != nil {
		return fmt.Errorf("cannot parse %q: %w", ver, err)
	}
	if major != 1 {
		return fmt.Errorf("requires Go 1, got %d", major)
	}
	if minor < MinGoMinor {
		return fmt.Errorf("requires Go >=1.%d, got 1.%d", MinGoMinor, minor)
	}
	return nil
}

func parseMajorMinor(ver string) (major, minor int, err error) {
	parts := strings.SplitN(ver, ".", 3)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("unexpected version format %q", ver)
	}
	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("bad major in %q: %w", ver, err)
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("bad minor in %q: %w", ver, err)
	}
	return major, minor, nil
}
