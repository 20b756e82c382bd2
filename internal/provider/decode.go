package provider

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pitabwire/masterdata/model"
)

// Backend responses wrap their payload in "data" when they use an envelope;
// bare payloads are accepted as well.
const (
	keyData    = "data"
	keyTotal   = "total"
	keyCount   = "count"
	keyMessage = "message"
	keyError   = "error"
)

func encodeJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

// decodeJSON decodes with UseNumber so record ids keep their precision.
func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// envelope splits body into its top-level fields when it is a JSON object.
func envelope(body []byte) map[string]json.RawMessage {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil
	}
	return fields
}

// payload returns body.data when present and non-null, else body itself.
func payload(body []byte) []byte {
	if raw, ok := envelope(body)[keyData]; ok && !isNull(raw) {
		return raw
	}
	return body
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null"
}

func decodeData(body []byte, v any) error {
	data := payload(body)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return decodeJSON(data, v)
}

func decodeRecord(body []byte) (model.Record, error) {
	var rec model.Record
	if err := decodeData(body, &rec); err != nil {
		return nil, fmt.Errorf("provider: decode record: %w", err)
	}
	return rec, nil
}

// decodeList reads rows from data (or the body when it is an array) and the
// total from "total", falling back to "count" and then 0.
func decodeList(body []byte) (model.ListResult, error) {
	var res model.ListResult

	data := payload(body)
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := decodeJSON(trimmed, &res.Rows); err != nil {
			return model.ListResult{}, err
		}
	}
	if res.Rows == nil {
		res.Rows = []model.Record{}
	}

	fields := envelope(body)
	for _, key := range []string{keyTotal, keyCount} {
		raw, ok := fields[key]
		if !ok || isNull(raw) {
			continue
		}
		var n json.Number
		if err := decodeJSON(raw, &n); err != nil {
			return model.ListResult{}, fmt.Errorf("%s: %w", key, err)
		}
		f, err := n.Float64()
		if err != nil {
			return model.ListResult{}, fmt.Errorf("%s: %w", key, err)
		}
		res.Total = int(f)
		break
	}
	return res, nil
}

// decodeOptions maps remote option items. Items shaped {id, name} or
// {id, displayName} become {value: id, label: name}; {value, label} items
// pass through. A missing label falls back to the id's string form.
func decodeOptions(body []byte) ([]model.Option, error) {
	var items []map[string]any
	if err := decodeData(body, &items); err != nil {
		return nil, err
	}
	opts := make([]model.Option, 0, len(items))
	for _, item := range items {
		value, ok := item["id"]
		if !ok {
			value = item["value"]
		}
		label := firstString(item, "name", "displayName", "label")
		if label == "" && value != nil {
			label = fmt.Sprint(value)
		}
		opts = append(opts, model.Option{Value: value, Label: label})
	}
	return opts, nil
}

func firstString(item map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := item[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// backendMessage extracts the human-readable message of an error response.
// message may be a string or a list of strings.
func backendMessage(body []byte) string {
	fields := envelope(body)
	for _, key := range []string{keyMessage, keyError} {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var s string
		if json.Unmarshal(raw, &s) == nil && s != "" {
			return s
		}
		var list []string
		if json.Unmarshal(raw, &list) == nil && len(list) > 0 {
			return strings.Join(list, ", ")
		}
	}
	return ""
}
