package httpapi

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

type rangeQuery struct {
	From  time.Time
	To    time.Time
	Limit int
}

// parseRange reads from/to (RFC3339) and limit (1..1000) query parameters.
func parseRange(q url.Values) (rangeQuery, error) {
	out := rangeQuery{Limit: defaultLimit}
	var err error
	if s := strings.TrimSpace(q.Get("from")); s != "" {
		if out.From, err = time.Parse(time.RFC3339, s); err != nil {
			return rangeQuery{}, fmt.Errorf("invalid from %q: must be RFC3339", s)
		}
	}
	if s := strings.TrimSpace(q.Get("to")); s != "" {
		if out.To, err = time.Parse(time.RFC3339, s); err != nil {
			return rangeQuery{}, fmt.Errorf("invalid to %q: must be RFC3339", s)
		}
	}
	if !out.From.IsZero() && !out.To.IsZero() && out.To.Before(out.From) {
		return rangeQuery{}, fmt.Errorf("to is before from")
	}
	if s := strings.TrimSpace(q.Get("limit")); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxLimit {
			return rangeQuery{}, fmt.Errorf("invalid limit %q: must be 1..%d", s, maxLimit)
		}
		out.Limit = n
	}
	return out, nil
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
