package utils

import (
	"fmt"
	"net/http"
	"strconv"
)

// QueryLimit reads the ?limit= parameter, falling back to def when absent and capping at max
func QueryLimit(r *http.Request, def, max int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer, got %q", raw)
	}
	if limit > max {
		limit = max
	}
	return limit, nil
}
