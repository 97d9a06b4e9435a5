package sqlutil

import "testing"

func TestQuoteIdentifier(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"users", "`users`"},
		{"user_data", "`user_data`"},
		{"select", "`select`"},           // reserved word
		{"first name", "`first name`"},   // space in name
		{"user`data", "`user``data`"},    // backtick in name
		{"a`b`c", "`a``b``c`"},           // multiple backticks
		{"", "``"},                        // empty string
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := QuoteIdentifier(tt.input)
			if result != tt.expected {
				t.Errorf("QuoteIdentifier(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestQuoteString(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello", "'hello'"},
		{"it's", "'it''s'"},                    // single quote
		{"a'b'c", "'a''b''c'"},                 // multiple quotes
		{"hello world", "'hello world'"},       // space
		{"", "''"},                             // empty string
		{"password123", "'password123'"},       // typical password
		{"pass'word", "'pass''word'"},          // quote in password
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := QuoteString(tt.input)
			if result != tt.expected {
				t.Errorf("QuoteString(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestQualifiedIdentifier(t *testing.T) {
	tests := []struct {
		alias    string
		column   string
		expected string
	}{
		{"", "id", "`id`"},
		{"p", "id", "`p`.`id`"},
		{"__base", "product_id", "`__base`.`product_id`"},
		{"a`b", "c", "`a``b`.`c`"},
	}

	for _, tt := range tests {
		t.Run(tt.alias+"."+tt.column, func(t *testing.T) {
			if got := QualifiedIdentifier(tt.alias, tt.column); got != tt.expected {
				t.Errorf("QualifiedIdentifier(%q, %q) = %q, want %q", tt.alias, tt.column, got, tt.expected)
			}
		})
	}
}

func TestQuoteIdentifiers(t *testing.T) {
	got := QuoteIdentifiers("t", []string{"id", "tag"})
	if len(got) != 2 || got[0] != "`t`.`id`" || got[1] != "`t`.`tag`" {
		t.Errorf("QuoteIdentifiers returned %v", got)
	}
	if bare := QuoteIdentifiers("", []string{"id"}); bare[0] != "`id`" {
		t.Errorf("QuoteIdentifiers without alias returned %v", bare)
	}
}
