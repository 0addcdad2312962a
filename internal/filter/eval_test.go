package filter

import (
	"testing"
)

func TestEval(t *testing.T) {
	row := map[string]string{
		"continent": "EU",
		"country":   "France",
		"pop":       "67",
		"code":      "FR",
	}

	tests := []struct {
		input    string
		expected bool
	}{
		{"", true},
		{"continent = 'EU'", true},
		{"continent = 'US'", false},
		{"continent <> 'US'", true},
		{"pop > 9", true},    // numeric, not lexical
		{"pop < 100", true},  // numeric, not lexical
		{"pop = 67.0", true}, // int and float compare equal
		{"country > 'Germany'", false},
		{"country LIKE 'fr%'", true}, // case-insensitive
		{"country LIKE 'Fr_nce'", true},
		{"country NOT LIKE '%x%'", true},
		{"code IN ('DE', 'FR')", true},
		{"code NOT IN ('DE', 'FR')", false},
		{"missing IS NULL", true},
		{"country IS NOT NULL", true},
		{"missing = 'x'", false},
		{"NOT missing = 'x'", true},
		{"continent = 'US' OR code = 'FR'", true},
		{"continent = 'EU' AND NOT (code = 'FR')", false},
		{"geo.continent = 'EU'", true},
		{"country = code", false},
	}

	for _, tt := range tests {
		expr, err := Parse(tt.input)
		if err != nil {
			t.Errorf("input %q: parse error: %v", tt.input, err)
			continue
		}
		got, err := Eval(expr, row)
		if err != nil {
			t.Errorf("input %q: eval error: %v", tt.input, err)
			continue
		}
		if got != tt.expected {
			t.Errorf("input %q: expected %v, got %v", tt.input, tt.expected, got)
		}
	}
}

func TestEvalNonBoolean(t *testing.T) {
	expr, err := Parse("continent")
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if _, err := Eval(expr, map[string]string{"continent": "EU"}); err == nil {
		t.Error("expected error evaluating a bare column")
	}
}

func TestLikeMatch(t *testing.T) {
	tests := []struct {
		s, pattern string
		expected   bool
	}{
		{"abc", "abc", true},
		{"abc", "a%", true},
		{"abc", "%c", true},
		{"abc", "%b%", true},
		{"abc", "a_c", true},
		{"abc", "a_", false},
		{"", "%", true},
		{"", "_", false},
		{"aXbXc", "a%b%c", true},
		{"aXbXd", "a%b%c", false},
	}

	for _, tt := range tests {
		if got := likeMatch(tt.s, tt.pattern); got != tt.expected {
			t.Errorf("likeMatch(%q, %q): expected %v, got %v", tt.s, tt.pattern, tt.expected, got)
		}
	}
}
