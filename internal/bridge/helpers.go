package bridge

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// numeric is a tolerant wire number. Terminals send bare JSON numbers,
// older EA builds quote them as strings, and either may be null or
// garbage; any shape that doesn't parse becomes nil rather than
// failing the whole batch.
type numeric struct {
	value *decimal.Decimal
}

func (n *numeric) UnmarshalJSON(data []byte) error {
	n.value = nil
	s := strings.TrimSpace(string(data))
	if s == "" || s == "null" {
		return nil
	}
	if s[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
	}
	if d, err := decimal.NewFromString(s); err == nil {
		n.value = &d
	}
	return nil
}

// timestamp is a tolerant wire time: RFC3339 strings or epoch-seconds
// numbers decode; anything else becomes nil, letting the caller stamp
// receipt time instead. A terminal with a bad clock format still gets
// its quotes ingested.
type timestamp struct {
	value *time.Time
}

func (t *timestamp) UnmarshalJSON(data []byte) error {
	t.value = nil
	s := strings.TrimSpace(string(data))
	if s == "" || s == "null" {
		return nil
	}
	if s[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return nil
		}
		if parsed, err := time.Parse(time.RFC3339, inner); err == nil {
			t.value = &parsed
		}
		return nil
	}
	if epoch, err := strconv.ParseFloat(s, 64); err == nil && epoch > 0 {
		sec := int64(epoch)
		nsec := int64((epoch - float64(sec)) * 1e9)
		parsed := time.Unix(sec, nsec).UTC()
		t.value = &parsed
	}
	return nil
}
