package vocab

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
)

// ErrEmptyPath is returned when LoadFile is called with an empty path.
var ErrEmptyPath = errors.New("model path must not be empty")

// LoadFile reads a JSON model from path.
func LoadFile(path string) (*Vocabulary, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model %q: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	v, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("load model %q: %w", path, err)
	}

	return v, nil
}

// Load parses a model of the form
//
//	{"<base64 token>": [id, "value", freq], ...}
//
// Values may also be objects: {"id": 3, "value": "a", "freq": 10}.
func Load(r io.Reader) (*Vocabulary, error) {
	raw, err := readObject(r)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}

	slices.Sort(keys)

	entries := make([]Entry, 0, len(raw))

	for _, key := range keys {
		tok, err := base64.StdEncoding.DecodeString(key)
		if err != nil {
			return nil, &ModelFormatError{Reason: "token is not standard base64", Key: key, Err: err}
		}

		e, err := parseEntry(raw[key])
		if err != nil {
			return nil, &ModelFormatError{Reason: "malformed entry", Key: key, Err: err}
		}

		e.Token = tok
		entries = append(entries, e)
	}

	return New(entries)
}

// readObject reads exactly one top-level JSON object, rejecting repeated
// keys and anything after the closing brace.
func readObject(r io.Reader) (map[string]json.RawMessage, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	malformed := func(err error) error {
		return &ModelFormatError{Reason: "malformed JSON", Err: err}
	}

	tok, err := dec.Token()
	if err != nil {
		return nil, malformed(err)
	}

	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, &ModelFormatError{Reason: "model must be a JSON object"}
	}

	raw := make(map[string]json.RawMessage)

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, malformed(err)
		}

		key, ok := tok.(string)
		if !ok {
			return nil, malformed(fmt.Errorf("unexpected %v", tok))
		}

		if _, dup := raw[key]; dup {
			return nil, &ModelFormatError{Reason: "duplicate token key", Key: key}
		}

		var val json.RawMessage
		if err := dec.Decode(&val); err != nil {
			return nil, malformed(err)
		}

		raw[key] = val
	}

	if _, err := dec.Token(); err != nil {
		return nil, malformed(err)
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &ModelFormatError{Reason: "trailing data after model object", Err: err}
	}

	return raw, nil
}

type objectEntry struct {
	ID    json.Number `json:"id"`
	Value string      `json:"value"`
	Freq  json.Number `json:"freq"`
}

func parseEntry(msg json.RawMessage) (Entry, error) {
	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 {
		return Entry{}, errors.New("empty value")
	}

	var id, freq json.Number
	var value string

	switch msg[0] {
	case '[':
		var fields []json.RawMessage
		if err := unmarshalNumbers(msg, &fields); err != nil {
			return Entry{}, err
		}

		if len(fields) != 3 {
			return Entry{}, fmt.Errorf("want [id, value, freq], got %d fields", len(fields))
		}

		if err := unmarshalNumbers(fields[0], &id); err != nil {
			return Entry{}, fmt.Errorf("id: %w", err)
		}

		if err := unmarshalNumbers(fields[1], &value); err != nil {
			return Entry{}, fmt.Errorf("value: %w", err)
		}

		if err := unmarshalNumbers(fields[2], &freq); err != nil {
			return Entry{}, fmt.Errorf("freq: %w", err)
		}
	case '{':
		var obj objectEntry
		if err := unmarshalNumbers(msg, &obj); err != nil {
			return Entry{}, err
		}

		if obj.ID == "" || obj.Freq == "" {
			return Entry{}, errors.New("object entry requires id and freq")
		}

		id, value, freq = obj.ID, obj.Value, obj.Freq
	default:
		return Entry{}, errors.New("value must be an array or an object")
	}

	n, err := strconv.ParseUint(id.String(), 10, 31)
	if err != nil {
		return Entry{}, fmt.Errorf("id %q is not a non-negative integer", id)
	}

	f, err := strconv.ParseUint(freq.String(), 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("freq %q is not a positive integer", freq)
	}

	return Entry{ID: int(n), Freq: f, Value: value}, nil
}

func unmarshalNumbers(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	return dec.Decode(v)
}
