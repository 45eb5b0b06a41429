package core

import (
	"testing"
	"time"
)

func TestToPgNumeric(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantValid bool
		wantStr   string
	}{
		{name: "integer", input: "42", wantValid: true, wantStr: "42"},
		{name: "decimal", input: "19.99", wantValid: true, wantStr: "19.99"},
		{name: "dollar sign", input: "$1,250.00", wantValid: true, wantStr: "1250.00"},
		{name: "euro sign", input: "€9.50", wantValid: true, wantStr: "9.50"},
		{name: "accounting negative", input: "(12.50)", wantValid: true, wantStr: "-12.50"},
		{name: "explicit negative", input: "-3", wantValid: true, wantStr: "-3"},
		{name: "scientific", input: "1.5e3", wantValid: true},
		{name: "surrounding whitespace", input: "  7.25 ", wantValid: true, wantStr: "7.25"},
		{name: "empty", input: "", wantValid: false},
		{name: "whitespace only", input: "   ", wantValid: false},
		{name: "letters", input: "abc", wantValid: false},
		{name: "two decimal points", input: "1.2.3", wantValid: false},
		{name: "trailing text", input: "12 units", wantValid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToPgNumeric(tt.input)
			if got.Valid != tt.wantValid {
				t.Fatalf("ToPgNumeric(%q).Valid = %v, want %v", tt.input, got.Valid, tt.wantValid)
			}
			if !tt.wantValid || tt.wantStr == "" {
				return
			}
			want := ToPgNumeric(tt.wantStr)
			gf, _ := got.Float64Value()
			wf, _ := want.Float64Value()
			if gf.Float64 != wf.Float64 {
				t.Errorf("ToPgNumeric(%q) = %v, want %v", tt.input, gf.Float64, wf.Float64)
			}
		})
	}
}

func TestToPgInt8(t *testing.T) {
	tests := []struct {
		input     string
		wantValid bool
		want      int64
	}{
		{"12", true, 12},
		{"-4", true, -4},
		{"1,200", true, 1200},
		{"12.0", true, 12},
		{"12.00", true, 12},
		{" 7 ", true, 7},
		{"12.5", false, 0},
		{"", false, 0},
		{"ten", false, 0},
		{"1e3", false, 0},
	}

	for _, tt := range tests {
		got := ToPgInt8(tt.input)
		if got.Valid != tt.wantValid {
			t.Errorf("ToPgInt8(%q).Valid = %v, want %v", tt.input, got.Valid, tt.wantValid)
			continue
		}
		if got.Valid && got.Int64 != tt.want {
			t.Errorf("ToPgInt8(%q) = %d, want %d", tt.input, got.Int64, tt.want)
		}
	}
}

func TestToPgDate(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantValid bool
		wantDate  string
	}{
		{name: "ISO", input: "2024-03-15", wantValid: true, wantDate: "2024-03-15"},
		{name: "US slashes", input: "3/15/2024", wantValid: true, wantDate: "2024-03-15"},
		{name: "US padded", input: "03/05/2024", wantValid: true, wantDate: "2024-03-05"},
		{name: "dashes", input: "03-15-2024", wantValid: true, wantDate: "2024-03-15"},
		{name: "year first slashes", input: "2024/03/15", wantValid: true, wantDate: "2024-03-15"},
		{name: "month name", input: "Mar 15, 2024", wantValid: true, wantDate: "2024-03-15"},
		{name: "compact", input: "20240315", wantValid: true, wantDate: "2024-03-15"},
		{name: "empty", input: "", wantValid: false},
		{name: "garbage", input: "not a date", wantValid: false},
		{name: "invalid day", input: "2024-02-30", wantValid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToPgDate(tt.input)
			if got.Valid != tt.wantValid {
				t.Fatalf("ToPgDate(%q).Valid = %v, want %v", tt.input, got.Valid, tt.wantValid)
			}
			if tt.wantValid {
				if s := FormatDate(got); s != tt.wantDate {
					t.Errorf("ToPgDate(%q) = %s, want %s", tt.input, s, tt.wantDate)
				}
			}
		})
	}
}

func TestToPgDate_TwoDigitYear(t *testing.T) {
	got := ToPgDate("1/2/06")
	if !got.Valid {
		t.Fatal("ToPgDate(1/2/06) invalid")
	}
	if got.Time.Year() != 2006 {
		t.Errorf("year = %d, want 2006", got.Time.Year())
	}

	// Years too far in the future roll back a century.
	future := (time.Now().Year() + TwoDigitYearPivot + 5) % 100
	in := time.Date(2000+future, 1, 2, 0, 0, 0, 0, time.UTC).Format("1/2/06")
	if y := ToPgDate(in).Time.Year(); y >= 2000+future {
		t.Errorf("ToPgDate(%q) year = %d, want previous century", in, y)
	}
}

func TestFormatDate_Invalid(t *testing.T) {
	if got := FormatDate(ToPgDate("")); got != "" {
		t.Errorf("FormatDate(invalid) = %q, want empty", got)
	}
}

func TestToPgText(t *testing.T) {
	tests := []struct {
		input     string
		wantValid bool
		want      string
	}{
		{"Steel bolt", true, "Steel bolt"},
		{"  padded  ", true, "padded"},
		{"", false, ""},
		{"\t\n", false, ""},
	}
	for _, tt := range tests {
		got := ToPgText(tt.input)
		if got.Valid != tt.wantValid || got.String != tt.want {
			t.Errorf("ToPgText(%q) = {%q %v}, want {%q %v}", tt.input, got.String, got.Valid, tt.want, tt.wantValid)
		}
	}
}

func TestCleanCell(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "plain", input: "hello", want: "hello"},
		{name: "whitespace", input: "  hello  ", want: "hello"},
		{name: "excel formula", input: `="SKU-001"`, want: "SKU-001"},
		{name: "bare equals", input: "=42", want: "42"},
		{name: "double quotes", input: `"quoted"`, want: "quoted"},
		{name: "excel text prefix", input: "'00123", want: "00123"},
		{name: "formula with whitespace", input: `  ="test"  `, want: "test"},
		{name: "empty", input: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanCell(tt.input); got != tt.want {
				t.Errorf("CleanCell(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestMakeHeaderIndex(t *testing.T) {
	idx := MakeHeaderIndex([]string{" SKU ", "Unit_Price", `="Name"`})
	want := map[string]int{"sku": 0, "unit_price": 1, "name": 2}
	for key, pos := range want {
		if got, ok := idx[key]; !ok || got != pos {
			t.Errorf("MakeHeaderIndex()[%q] = %d, %v, want %d", key, got, ok, pos)
		}
	}
}

func TestMakeHeaderIndex_DuplicateHeaders(t *testing.T) {
	// The last occurrence wins.
	idx := MakeHeaderIndex([]string{"sku", "name", "SKU"})
	if got := idx["sku"]; got != 2 {
		t.Errorf("sku index = %d, want 2", got)
	}
}
