package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/example/go-bytepiece/internal/server"
	"github.com/example/go-bytepiece/internal/testutil"
	"github.com/example/go-bytepiece/internal/tokenizer"
	"github.com/example/go-bytepiece/internal/vocab"
)

// stubCodec implements server.Codec for tests.
type stubCodec struct {
	ids    []int
	pieces [][]byte
	text   string
	err    error

	gotText string
	gotOpts tokenizer.EncodeOptions
}

func (s *stubCodec) Encode(_ context.Context, text string, o tokenizer.EncodeOptions) ([]int, error) {
	s.gotText, s.gotOpts = text, o
	return s.ids, s.err
}

func (s *stubCodec) Tokenize(_ context.Context, text string, o tokenizer.EncodeOptions) ([][]byte, error) {
	s.gotText, s.gotOpts = text, o
	return s.pieces, s.err
}

func (s *stubCodec) Decode(_ []int) (string, error) {
	return s.text, s.err
}

func fixtureTokenizer(t *testing.T) *tokenizer.Tokenizer {
	t.Helper()

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	tok, err := tokenizer.New(testutil.Fixture(t, map[string]uint64{"今天": 50, "天气": 80, "不错": 60}),
		tokenizer.WithLogger(quiet))
	if err != nil {
		t.Fatalf("tokenizer.New: %v", err)
	}

	return tok
}

func post(h http.Handler, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rec, req)

	return rec
}

// ---------------------------------------------------------------------------
// GET /health
// ---------------------------------------------------------------------------

func TestHealth_Returns200WithStatusOK(t *testing.T) {
	h := server.NewHandler(&stubCodec{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}

	var body map[string]string
	err := json.NewDecoder(rec.Body).Decode(&body)
	if err != nil {
		t.Fatalf("decode body: %v", err)
	}

	if body["status"] != "ok" {
		t.Errorf("want status=ok, got %q", body["status"])
	}

	if _, ok := body["version"]; !ok {
		t.Error("want version field in response")
	}
}

// ---------------------------------------------------------------------------
// POST /encode, /tokenize, /decode against a real tokenizer
// ---------------------------------------------------------------------------

func TestEncodeDecode_RoundTrip(t *testing.T) {
	tok := fixtureTokenizer(t)
	h := server.NewHandler(tok)

	rec := post(h, "/encode", `{"text":"今天天气不错","add_bos":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("encode: want 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var enc struct {
		IDs []int `json:"ids"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&enc); err != nil {
		t.Fatalf("decode encode body: %v", err)
	}

	want, err := tok.Encode(context.Background(), "今天天气不错", tokenizer.EncodeOptions{AddBOS: true, Alpha: -1})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if diff := cmp.Diff(want, enc.IDs); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}

	payload, _ := json.Marshal(map[string][]int{"ids": enc.IDs[1:]})

	rec = post(h, "/decode", string(payload))
	if rec.Code != http.StatusOK {
		t.Fatalf("decode: want 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var dec struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&dec); err != nil {
		t.Fatalf("decode decode body: %v", err)
	}

	if dec.Text != "今天天气不错" {
		t.Errorf("text = %q, want 今天天气不错", dec.Text)
	}
}

func TestEncode_EmptyTextIsValid(t *testing.T) {
	h := server.NewHandler(fixtureTokenizer(t))

	rec := post(h, "/encode", `{"text":"","add_bos":true,"add_eos":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}

	var enc struct {
		IDs []int `json:"ids"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&enc); err != nil {
		t.Fatalf("decode body: %v", err)
	}

	if diff := cmp.Diff([]int{vocab.BOSID, vocab.EOSID}, enc.IDs); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
}

func TestTokenize_ReturnsBase64Pieces(t *testing.T) {
	h := server.NewHandler(fixtureTokenizer(t))

	rec := post(h, "/tokenize", `{"text":"今天天气不错"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}

	var body struct {
		Pieces [][]byte `json:"pieces"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}

	got := make([]string, len(body.Pieces))
	for i, p := range body.Pieces {
		got[i] = string(p)
	}

	if diff := cmp.Diff([]string{"今天", "天气", "不错"}, got); diff != "" {
		t.Errorf("pieces mismatch (-want +got):\n%s", diff)
	}
}

func TestDecode_UnknownIDReturns400(t *testing.T) {
	h := server.NewHandler(fixtureTokenizer(t))

	rec := post(h, "/decode", `{"ids":[999999999]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}

	if body["error"] == "" {
		t.Error("want non-empty error field")
	}
}

// ---------------------------------------------------------------------------
// request parsing
// ---------------------------------------------------------------------------

func TestEncode_RequestDefaultsAndOverrides(t *testing.T) {
	defaults := tokenizer.EncodeOptions{Alpha: -1, Normalize: true, AddEOS: true}

	tests := []struct {
		name string
		body string
		want tokenizer.EncodeOptions
	}{
		{"defaults", `{"text":"x"}`, defaults},
		{"alpha override", `{"text":"x","alpha":0.2}`, tokenizer.EncodeOptions{Alpha: 0.2, Normalize: true, AddEOS: true}},
		{"explicit false", `{"text":"x","normalize":false,"add_eos":false}`, tokenizer.EncodeOptions{Alpha: -1}},
		{"bos on", `{"text":"x","add_bos":true}`, tokenizer.EncodeOptions{Alpha: -1, Normalize: true, AddBOS: true, AddEOS: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codec := &stubCodec{ids: []int{}}
			h := server.NewHandler(codec, server.WithEncodeDefaults(defaults))

			rec := post(h, "/encode", tt.body)
			if rec.Code != http.StatusOK {
				t.Fatalf("want 200, got %d", rec.Code)
			}

			if diff := cmp.Diff(tt.want, codec.gotOpts); diff != "" {
				t.Errorf("options mismatch (-want +got):\n%s", diff)
			}

			if codec.gotText != "x" {
				t.Errorf("text = %q, want x", codec.gotText)
			}
		})
	}
}

func TestRequests_BadInputReturns400(t *testing.T) {
	h := server.NewHandler(&stubCodec{})

	tests := []struct {
		name string
		path string
		body string
	}{
		{"encode missing text", "/encode", `{"alpha":1}`},
		{"encode invalid json", "/encode", `{"text":`},
		{"tokenize invalid json", "/tokenize", `nope`},
		{"decode invalid json", "/decode", `{"ids":["a"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(h, tt.path, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("want 400, got %d", rec.Code)
			}
		})
	}
}

func TestRequests_MissingBodyReturns400(t *testing.T) {
	h := server.NewHandler(&stubCodec{})

	for _, path := range []string{"/encode", "/tokenize", "/decode"} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, path, nil)
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: want 400, got %d", path, rec.Code)
		}
	}
}

func TestRequests_WrongMethodReturns405(t *testing.T) {
	h := server.NewHandler(&stubCodec{})

	for _, path := range []string{"/encode", "/tokenize", "/decode"} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s: want 405, got %d", path, rec.Code)
		}
	}
}

func TestEncode_CodecErrorReturns500(t *testing.T) {
	h := server.NewHandler(&stubCodec{err: errCodecFailed})

	rec := post(h, "/encode", `{"text":"hello"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("want 500, got %d", rec.Code)
	}

	var errBody map[string]string
	err := json.NewDecoder(rec.Body).Decode(&errBody)
	if err != nil {
		t.Fatalf("decode error body: %v", err)
	}

	if errBody["error"] == "" {
		t.Error("want non-empty error field")
	}
}

var errCodecFailed = &codecError{"segmentation failed"}

type codecError struct{ msg string }

func (e *codecError) Error() string { return e.msg }
