package query

import (
	"net/url"
	"sort"
	"strings"

	"github.com/canonica-labs/dealquery/internal/errors"
)

// Param is one key/value pair from a request query string.
type Param struct {
	Key   string
	Value string
}

// Params is an ordered parameter multimap.
type Params []Param

// ParseRawQuery splits a raw query string, preserving the order pairs appear in.
func ParseRawQuery(raw string) (Params, error) {
	raw = strings.TrimPrefix(raw, "?")
	var out Params
	for raw != "" {
		var pair string
		pair, raw, _ = strings.Cut(raw, "&")
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			return nil, errors.NewMalformedValue(k, k, "invalid percent-encoding in key")
		}
		value, err := url.QueryUnescape(v)
		if err != nil {
			return nil, errors.NewMalformedValue(key, v, "invalid percent-encoding in value")
		}
		out = append(out, Param{Key: key, Value: value})
	}
	return out, nil
}

// FromValues converts url.Values, ordering keys lexically so the result is deterministic.
func FromValues(values url.Values) Params {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out Params
	for _, k := range keys {
		for _, v := range values[k] {
			out = append(out, Param{Key: k, Value: v})
		}
	}
	return out
}

// Get returns the first value for key.
func (p Params) Get(key string) (string, bool) {
	for _, kv := range p {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// Encode renders the parameters back into a query string in their current order.
func (p Params) Encode() string {
	var b strings.Builder
	for i, kv := range p {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(kv.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(kv.Value))
	}
	return b.String()
}

// Keys returns the parameter keys in order.
func (p Params) Keys() []string {
	out := make([]string, len(p))
	for i, kv := range p {
		out[i] = kv.Key
	}
	return out
}
