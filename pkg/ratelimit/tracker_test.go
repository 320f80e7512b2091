package ratelimit

import (
	"net/http"
	"testing"
	"time"
)

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 4, 25, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		header      string
		expected    time.Duration
		shouldError bool
	}{
		{
			name:     "missing header uses default",
			header:   "",
			expected: DefaultCooldown,
		},
		{
			name:     "delay seconds",
			header:   "5",
			expected: 5 * time.Second,
		},
		{
			name:     "zero seconds",
			header:   "0",
			expected: 0,
		},
		{
			name:     "surrounding whitespace",
			header:   " 3 ",
			expected: 3 * time.Second,
		},
		{
			name:     "clamped to max",
			header:   "3600",
			expected: MaxCooldown,
		},
		{
			name:     "huge seconds do not overflow",
			header:   "9223372036854775",
			expected: MaxCooldown,
		},
		{
			name:     "seconds beyond int64 clamped to max",
			header:   "99999999999999999999",
			expected: MaxCooldown,
		},
		{
			name:     "negative beyond int64 clamped to zero",
			header:   "-99999999999999999999",
			expected: 0,
		},
		{
			name:     "negative clamped to zero",
			header:   "-4",
			expected: 0,
		},
		{
			name:     "http date",
			header:   now.Add(7 * time.Second).Format(http.TimeFormat),
			expected: 7 * time.Second,
		},
		{
			name:     "http date in the past",
			header:   now.Add(-time.Minute).Format(http.TimeFormat),
			expected: 0,
		},
		{
			name:        "garbage",
			header:      "soon",
			shouldError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := http.Header{}
			if tt.header != "" {
				headers.Set("Retry-After", tt.header)
			}

			got, err := ParseRetryAfter(headers, now)

			if tt.shouldError {
				if err == nil {
					t.Error("Expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("ParseRetryAfter() = %v, want %v", got, tt.expected)
			}
		})
	}
}
