package services

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// ExtractCreatedTaskIDs pulls created task ids out of a bulk import response.
//
// Recognised shapes, in order:
//   - [{"id": n}, ...]
//   - {"task_ids": [n, ...]} or {"ids": [n, ...]}, preferring task_ids when every element converts
//   - {"tasks": [{"id": n}, ...]}
//
// Anything else yields no ids.
func ExtractCreatedTaskIDs(raw json.RawMessage) []int64 {
	v, ok := decodeNumbers(raw)
	if !ok {
		return nil
	}

	switch body := v.(type) {
	case []any:
		return idsFromObjects(body)
	case map[string]any:
		for _, key := range []string{"task_ids", "ids"} {
			list, ok := body[key].([]any)
			if !ok {
				continue
			}
			if ids, ok := convertAll(list); ok {
				return ids
			}
		}
		if tasks, ok := body["tasks"].([]any); ok {
			return idsFromObjects(tasks)
		}
	}
	return nil
}

// ImportJobID reads the asynchronous import handle from {"import": n}.
func ImportJobID(raw json.RawMessage) (int64, bool) {
	v, ok := decodeNumbers(raw)
	if !ok {
		return 0, false
	}
	body, ok := v.(map[string]any)
	if !ok {
		return 0, false
	}
	handle, ok := body["import"]
	if !ok {
		return 0, false
	}
	return toInt64(handle)
}

func decodeNumbers(raw json.RawMessage) (any, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	return v, true
}

func idsFromObjects(list []any) []int64 {
	ids := make([]int64, 0, len(list))
	for _, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		raw, ok := obj["id"]
		if !ok {
			continue
		}
		if id, ok := toInt64(raw); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func convertAll(list []any) ([]int64, bool) {
	ids := make([]int64, 0, len(list))
	for _, item := range list {
		id, ok := toInt64(item)
		if !ok {
			return nil, false
		}
		ids = append(ids, id)
	}
	return ids, true
}

// toInt64 accepts JSON numbers (fractions truncate) and base-10 integer strings.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
			return 0, false
		}
		return int64(f), true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}
