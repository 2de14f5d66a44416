package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"semaphore/devicehub/internal/apperr"
)

// params is the flat parameter set of one action. JSON bodies keep their
// types (numbers as json.Number); query strings arrive as strings.
type params map[string]any

func paramsFromQuery(values url.Values) params {
	p := make(params, len(values))
	for key, list := range values {
		if len(list) == 1 {
			p[key] = list[0]
			continue
		}
		items := make([]any, 0, len(list))
		for _, item := range list {
			items = append(items, item)
		}
		p[key] = items
	}
	return p
}

func decodeParams(data []byte) (params, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var p params
	if err := decoder.Decode(&p); err != nil {
		return nil, err
	}
	return p, nil
}

// str returns the first non-empty string among keys.
func (p params) str(keys ...string) string {
	for _, key := range keys {
		switch v := p[key].(type) {
		case string:
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

// raw returns the value untrimmed; passwords keep their spaces.
func (p params) raw(key string) string {
	v, _ := p[key].(string)
	return v
}

func (p params) has(key string) bool {
	v, found := p[key]
	return found && v != nil && v != ""
}

func (p params) integer(key string, fallback int) (int, error) {
	switch v := p[key].(type) {
	case nil:
		return fallback, nil
	case json.Number:
		n, err := strconv.Atoi(v.String())
		if err != nil {
			return 0, fmt.Errorf("%w: %s must be an integer", apperr.ErrValidation, key)
		}
		return n, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return fallback, nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("%w: %s must be an integer", apperr.ErrValidation, key)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: %s must be an integer", apperr.ErrValidation, key)
	}
}

func (p params) boolean(key string) (bool, error) {
	switch v := p[key].(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return false, nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, fmt.Errorf("%w: %s must be a boolean", apperr.ErrValidation, key)
		}
		return b, nil
	default:
		return false, fmt.Errorf("%w: %s must be a boolean", apperr.ErrValidation, key)
	}
}

// list accepts a JSON array, repeated query keys or a comma-separated string.
func (p params) list(key string) []string {
	var raw []string
	switch v := p[key].(type) {
	case string:
		raw = strings.Split(v, ",")
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// decision reads an approve/deny choice from approve (bool) or decision
// (approve|approved|deny|denied).
func (p params) decision() (bool, error) {
	if p.has("approve") {
		return p.boolean("approve")
	}
	switch strings.ToLower(p.str("decision", "status")) {
	case "approve", "approved":
		return true, nil
	case "deny", "denied":
		return false, nil
	default:
		return false, fmt.Errorf("%w: approve or decision is required", apperr.ErrValidation)
	}
}

func required(p params, keys ...string) error {
	var missing []string
	for _, key := range keys {
		if p.str(key) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s required", apperr.ErrValidation, strings.Join(missing, ", "))
	}
	return nil
}
