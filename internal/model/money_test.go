package model

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseCents(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int64
	}{
		{"whole number", "99.00", 9900},
		{"with cents", "123.45", 12345},
		{"zero", "0.00", 0},
		{"empty string", "", 0},
		{"large value", "1234567.89", 123456789},
		{"no decimals", "100", 10000},
		{"one decimal", "99.9", 9990},
		{"small value", "0.01", 1},
		{"half cent rounds up", "0.005", 1},
		{"invalid string", "abc", 0},
		{"negative (unusual)", "-10.00", -1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseCents(tt.input)
			if got != tt.want {
				t.Errorf("ParseCents(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestMinorUnits_AvoidsFloatDrift(t *testing.T) {
	// 0.1 + 0.2 in float64 is 0.30000000000000004
	d := decimal.NewFromFloat(0.1).Add(decimal.NewFromFloat(0.2))
	if got := MinorUnits(d); got != 30 {
		t.Errorf("MinorUnits(0.1+0.2) = %d, want 30", got)
	}
}

func TestFormatMinor(t *testing.T) {
	tests := []struct {
		amount   int64
		currency string
		want     string
	}{
		{1999, "usd", "19.99 USD"},
		{5, "eur", "0.05 EUR"},
		{0, "", "0.00"},
		{123456, "inr", "1234.56 INR"},
	}

	for _, tt := range tests {
		if got := FormatMinor(tt.amount, tt.currency); got != tt.want {
			t.Errorf("FormatMinor(%d, %q) = %q, want %q", tt.amount, tt.currency, got, tt.want)
		}
	}
}
