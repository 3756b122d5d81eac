//go:build js && wasm

package main

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"syscall/js"

	"github.com/example/go-bytepiece/internal/tokenizer"
	"github.com/example/go-bytepiece/internal/vocab"
)

var (
	tokMu sync.RWMutex
	tok   *tokenizer.Tokenizer
)

func main() {
	kernel := map[string]any{
		"version":   "0.1.0-wasm",
		"loadModel": js.FuncOf(loadModelAsync),
		"encode":    js.FuncOf(encodeText),
		"tokenize":  js.FuncOf(tokenizeText),
		"decode":    js.FuncOf(decodeIDs),
	}

	js.Global().Set("BytePieceKernel", js.ValueOf(kernel))
	println("BytePiece wasm kernel loaded")
	select {}
}

func loadModelAsync(_ js.Value, args []js.Value) any {
	promiseCtor := js.Global().Get("Promise")
	var handler js.Func
	handler = js.FuncOf(func(_ js.Value, pArgs []js.Value) any {
		defer handler.Release()
		resolve := pArgs[0]
		reject := pArgs[1]

		if len(args) < 1 {
			reject.Invoke("missing model bytes argument")
			return nil
		}

		modelBytes, ok := copyJSBytes(args[0])
		if !ok || len(modelBytes) == 0 {
			reject.Invoke("model bytes must be a non-empty Uint8Array/ArrayBuffer")
			return nil
		}

		go func() {
			res, err := loadModel(modelBytes)
			if err != nil {
				reject.Invoke(err.Error())
				return
			}
			resolve.Invoke(js.ValueOf(res))
		}()

		return nil
	})

	return promiseCtor.New(handler)
}

func loadModel(data []byte) (map[string]any, error) {
	v, err := vocab.Load(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	// wasm runs on one thread.
	t, err := tokenizer.New(v, tokenizer.WithWorkers(1))
	if err != nil {
		return nil, err
	}

	tokMu.Lock()
	tok = t
	tokMu.Unlock()

	return okResult(map[string]any{
		"size":         v.Size(),
		"maxTokenLen":  v.MaxTokenLen(),
		"missingBytes": len(v.MissingBytes()),
	}), nil
}

func current() (*tokenizer.Tokenizer, error) {
	tokMu.RLock()
	defer tokMu.RUnlock()

	if tok == nil {
		return nil, errors.New("model not loaded; call loadModel first")
	}
	return tok, nil
}

// parseEncodeOptions reads {alpha, addBos, addEos, normalize} from an
// optional options object.
func parseEncodeOptions(args []js.Value) tokenizer.EncodeOptions {
	o := tokenizer.EncodeOptions{Alpha: -1, Normalize: true}
	if len(args) < 2 || args[1].Type() != js.TypeObject {
		return o
	}

	opts := args[1]
	if v := opts.Get("alpha"); v.Type() == js.TypeNumber {
		o.Alpha = v.Float()
	}
	if v := opts.Get("addBos"); v.Type() == js.TypeBoolean {
		o.AddBOS = v.Bool()
	}
	if v := opts.Get("addEos"); v.Type() == js.TypeBoolean {
		o.AddEOS = v.Bool()
	}
	if v := opts.Get("normalize"); v.Type() == js.TypeBoolean {
		o.Normalize = v.Bool()
	}
	return o
}

func encodeText(_ js.Value, args []js.Value) any {
	if len(args) < 1 {
		return errResult("missing text argument")
	}

	t, err := current()
	if err != nil {
		return errResult(err.Error())
	}

	ids, err := t.Encode(context.Background(), args[0].String(), parseEncodeOptions(args))
	if err != nil {
		return errResult(err.Error())
	}

	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}

	return okResult(map[string]any{"ids": out})
}

func tokenizeText(_ js.Value, args []js.Value) any {
	if len(args) < 1 {
		return errResult("missing text argument")
	}

	t, err := current()
	if err != nil {
		return errResult(err.Error())
	}

	pieces, err := t.Tokenize(context.Background(), args[0].String(), parseEncodeOptions(args))
	if err != nil {
		return errResult(err.Error())
	}

	uint8Array := js.Global().Get("Uint8Array")
	out := make([]any, len(pieces))
	for i, p := range pieces {
		arr := uint8Array.New(len(p))
		js.CopyBytesToJS(arr, p)
		out[i] = arr
	}

	return okResult(map[string]any{"pieces": out})
}

func decodeIDs(_ js.Value, args []js.Value) any {
	if len(args) < 1 || args[0].Type() != js.TypeObject {
		return errResult("missing ids array argument")
	}

	t, err := current()
	if err != nil {
		return errResult(err.Error())
	}

	arr := args[0]
	ids := make([]int, arr.Length())
	for i := range ids {
		ids[i] = arr.Index(i).Int()
	}

	text, err := t.Decode(ids)
	if err != nil {
		return errResult(err.Error())
	}

	return okResult(map[string]any{"text": text})
}

func copyJSBytes(v js.Value) ([]byte, bool) {
	if v.IsUndefined() || v.IsNull() {
		return nil, false
	}

	uint8Array := js.Global().Get("Uint8Array")
	if !uint8Array.IsUndefined() && v.InstanceOf(uint8Array) {
		buf := make([]byte, v.Get("length").Int())
		n := js.CopyBytesToGo(buf, v)
		return buf[:n], true
	}

	arrayBuffer := js.Global().Get("ArrayBuffer")
	if !arrayBuffer.IsUndefined() && v.InstanceOf(arrayBuffer) {
		wrapped := uint8Array.New(v)
		buf := make([]byte, wrapped.Get("length").Int())
		n := js.CopyBytesToGo(buf, wrapped)
		return buf[:n], true
	}

	return nil, false
}

func okResult(payload map[string]any) map[string]any {
	payload["ok"] = true
	return payload
}

func errResult(msg string) map[string]any {
	return map[string]any{
		"ok":    false,
		"error": msg,
	}
}
