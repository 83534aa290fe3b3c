package db

import (
	"strings"
	"testing"
)

func TestConvertToMigrateURL(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"postgres scheme", "postgres://u:p@localhost:5432/plane?sslmode=disable", "pgx5://u:p@localhost:5432/plane?sslmode=disable", false},
		{"postgresql scheme", "postgresql://u:p@db/plane", "pgx5://u:p@db/plane", false},
		{"uppercase scheme", "POSTGRES://u:p@db/plane", "pgx5://u:p@db/plane", false},
		{"mysql rejected", "mysql://u:p@db/plane", "", true},
		{"empty scheme rejected", "localhost:5432", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := convertToMigrateURL(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("convertToMigrateURL(%q) error = nil, want error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("convertToMigrateURL(%q) error = %v", tt.in, err)
			}
			if !strings.EqualFold(got, tt.want) {
				t.Errorf("convertToMigrateURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
