package utils

import (
	"strings"

	"github.com/aristath/rebalancer/internal/domain"
)

// ParseCSV splits a comma-separated string and returns trimmed non-empty values.
// Returns nil for empty/whitespace-only input.
func ParseCSV(s string) []string {
	if s == "" {
		return nil
	}

	var result []string
	for _, v := range strings.Split(s, ",") {
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	if len(result) == 0 {
		return nil
	}

	return result
}

// ParseTickers parses a comma-separated ticker list such as a ?tickers= query value.
// Tickers are normalized and repeated tickers keep their first position.
func ParseTickers(s string) []string {
	values := ParseCSV(s)
	if values == nil {
		return nil
	}

	seen := make(map[string]bool, len(values))
	tickers := make([]string, 0, len(values))
	for _, v := range values {
		ticker := domain.NormalizeTicker(v)
		if seen[ticker] {
			continue
		}
		seen[ticker] = true
		tickers = append(tickers, ticker)
	}
	return tickers
}
