package jobapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"pkt.systems/fleetcon/schema"
)

type runPayload struct {
	Token   string          `json:"token"`
	Outputs json.RawMessage `json:"outputs"`
}

type outputMeta struct {
	Title string `json:"title"`
}

// decodeRun accepts either a bare token string, which streams into the
// aggregate key only, or an object carrying the token and its outputs.
func decodeRun(data json.RawMessage) (Run, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Run{}, schema.ErrInvalidToken
	}
	if trimmed[0] == '"' {
		var token string
		if err := json.Unmarshal(trimmed, &token); err != nil {
			return Run{}, fmt.Errorf("decode run token: %w", err)
		}
		if strings.TrimSpace(token) == "" {
			return Run{}, schema.ErrInvalidToken
		}
		return Run{
			Token:  schema.ExecutionToken(token),
			Keys:   []schema.StreamKey{schema.AggregateKey},
			Titles: map[schema.StreamKey]string{schema.AggregateKey: schema.AggregateTitle},
		}, nil
	}
	var payload runPayload
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		return Run{}, fmt.Errorf("decode run: %w", err)
	}
	if strings.TrimSpace(payload.Token) == "" {
		return Run{}, schema.ErrInvalidToken
	}
	keys, titles, err := decodeOutputs(payload.Outputs)
	if err != nil {
		return Run{}, err
	}
	if len(keys) == 0 {
		keys = []schema.StreamKey{schema.AggregateKey}
		titles = map[schema.StreamKey]string{schema.AggregateKey: schema.AggregateTitle}
	}
	return Run{Token: schema.ExecutionToken(payload.Token), Keys: keys, Titles: titles}, nil
}

// decodeOutputs walks the outputs object so keys keep the server's order.
func decodeOutputs(raw json.RawMessage) ([]schema.StreamKey, map[schema.StreamKey]string, error) {
	titles := make(map[schema.StreamKey]string)
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, titles, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, fmt.Errorf("decode outputs: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, nil, errors.New("decode outputs: expected object")
	}
	var keys []schema.StreamKey
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, fmt.Errorf("decode outputs: %w", err)
		}
		name, ok := tok.(string)
		if !ok {
			return nil, nil, errors.New("decode outputs: expected key")
		}
		var meta outputMeta
		if err := dec.Decode(&meta); err != nil {
			return nil, nil, fmt.Errorf("decode output %q: %w", name, err)
		}
		key := schema.StreamKey(name)
		if _, dup := titles[key]; dup {
			continue
		}
		keys = append(keys, key)
		titles[key] = meta.Title
	}
	if _, err := dec.Token(); err != nil && !errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("decode outputs: %w", err)
	}
	return keys, titles, nil
}
