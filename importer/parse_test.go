package importer

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParsePrice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "empty", input: "", want: "0"},
		{name: "sentinel n/a", input: "N/A", want: "0"},
		{name: "sentinel dash", input: "-", want: "0"},
		{name: "sentinel null", input: "null", want: "0"},
		{name: "sentinel none", input: " None ", want: "0"},
		{name: "plain", input: "12.50", want: "12.5"},
		{name: "currency and thousands", input: "$1,234.50", want: "1234.5"},
		{name: "euro", input: "€ 7", want: "7"},
		{name: "pound", input: "£0.99", want: "0.99"},
		{name: "negative", input: "-5", want: "0", wantErr: true},
		{name: "invalid", input: "abc", want: "0", wantErr: true},
		{name: "overflows float", input: "1e400", want: "0", wantErr: true},
		{name: "above max", input: "1,000,000,000,001", want: "0", wantErr: true},
		{name: "at max", input: "1000000000000", want: "1000000000000"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := parsePrice(tc.input)
			if tc.wantErr && err == nil {
				t.Fatalf("expected error for %q", tc.input)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error for %q: %v", tc.input, err)
			}
			if !got.Equal(decimal.RequireFromString(tc.want)) {
				t.Fatalf("unexpected price for %q: want %s, got %s", tc.input, tc.want, got)
			}
		})
	}
}

func TestParseStock(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{name: "empty", input: "", want: 0},
		{name: "sentinel na", input: "NA", want: 0},
		{name: "sentinel null", input: "NULL", want: 0},
		{name: "integer", input: "7", want: 7},
		{name: "thousands", input: "1,234", want: 1234},
		{name: "decimal truncates", input: "3.9", want: 3},
		{name: "negative decimal truncates toward zero", input: "-2.7", want: -2},
		{name: "invalid", input: "lots", want: 0, wantErr: true},
		{name: "not finite", input: "inf", want: 0, wantErr: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseStock(tc.input)
			if tc.wantErr && err == nil {
				t.Fatalf("expected error for %q", tc.input)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error for %q: %v", tc.input, err)
			}
			if got != tc.want {
				t.Fatalf("unexpected stock for %q: want %d, got %d", tc.input, tc.want, got)
			}
		})
	}
}
