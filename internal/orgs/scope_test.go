package orgs

import (
	"strings"
	"testing"
)

func TestValidScopeName(t *testing.T) {
	tests := []struct {
		name  string
		scope string
		want  bool
	}{
		{"simple", "bigco", true},
		{"with digits", "bigco2000", true},
		{"leading digit", "7digital", true},
		{"hyphenated", "big-co", true},
		{"underscore inside", "big_co", true},
		{"dotted", "big.co", true},
		{"empty", "", false},
		{"uppercase", "BigCo", false},
		{"leading dot", ".bigco", false},
		{"leading underscore", "_bigco", false},
		{"leading hyphen", "-bigco", false},
		{"space", "big co", false},
		{"url metacharacters", "bigco_aoi&&", false},
		{"path separator", "big/co", false},
		{"at sign", "@bigco", false},
		{"control char", "big\x00co", false},
		{"max length", strings.Repeat("a", MaxScopeLength), true},
		{"too long", strings.Repeat("a", MaxScopeLength+1), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidScopeName(tt.scope); got != tt.want {
				t.Errorf("ValidScopeName(%q) = %v, want %v", tt.scope, got, tt.want)
			}
		})
	}
}
