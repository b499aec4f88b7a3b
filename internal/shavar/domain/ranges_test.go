package domain

import (
	"reflect"
	"testing"
)

func TestFormatChunkRange(t *testing.T) {
	tests := []struct {
		name string
		in   []uint32
		want string
	}{
		{"empty", nil, ""},
		{"single", []uint32{7}, "7"},
		{"run", []uint32{1, 2, 3}, "1-3"},
		{"mixed", []uint32{1, 4, 6, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 99}, "1,4,6,8-20,99"},
		{"unsorted input", []uint32{20, 1, 19, 2, 3}, "1-3,19-20"},
		{"duplicates collapse", []uint32{5, 5, 6, 6}, "5-6"},
		{"zero is valid", []uint32{0, 1}, "0-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatChunkRange(tt.in); got != tt.want {
				t.Errorf("FormatChunkRange(%v) = %q; want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseChunkRange(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []uint32
		wantErr bool
	}{
		{"empty", "", nil, false},
		{"single", "7", []uint32{7}, false},
		{"list", "1,4,6", []uint32{1, 4, 6}, false},
		{"span", "8-11", []uint32{8, 9, 10, 11}, false},
		{"mixed", "1,3-5,9", []uint32{1, 3, 4, 5, 9}, false},
		{"descending span", "9-3", nil, true},
		{"garbage", "abc", nil, true},
		{"negative", "-4", nil, true},
		{"trailing comma", "1,", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseChunkRange(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseChunkRange(%q) expected error, got %v", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseChunkRange(%q) unexpected error: %v", tt.in, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseChunkRange(%q) = %v; want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestRangeRoundTrip(t *testing.T) {
	in := []uint32{1, 4, 6, 8, 9, 10, 20}
	formatted := FormatChunkRange(in)
	back, err := ParseChunkRange(formatted)
	if err != nil {
		t.Fatalf("round trip parse failed: %v", err)
	}
	if !reflect.DeepEqual(back, in) {
		t.Errorf("round trip mismatch: %v -> %q -> %v", in, formatted, back)
	}
}
