package domain

import "testing"

func TestFormatList(t *testing.T) {
	tests := []struct {
		name string
		in   ListChunkRanges
		want string
	}{
		{
			name: "add and sub chunks",
			in:   ListChunkRanges{Name: "goog-phish-shavar", Adds: "1,4,6,8-20,99", Subs: "16,32,64-96"},
			want: "goog-phish-shavar;a:1,4,6,8-20,99:s:16,32,64-96\n",
		},
		{
			name: "add chunks only",
			in:   ListChunkRanges{Name: "goog-phish-shavar", Adds: "1,4,6,8-20,99"},
			want: "goog-phish-shavar;a:1,4,6,8-20,99\n",
		},
		{
			name: "sub chunks only",
			in:   ListChunkRanges{Name: "goog-phish-shavar", Subs: "16,32,64-96"},
			want: "goog-phish-shavar;s:16,32,64-96\n",
		},
		{
			name: "no chunks of either type",
			in:   ListChunkRanges{Name: "goog-phish-shavar"},
			want: "goog-phish-shavar;\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatList(tt.in); got != tt.want {
				t.Errorf("FormatList(%+v) = %q; want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewListChunkRanges(t *testing.T) {
	r, err := NewListChunkRanges("goog-malware-shavar")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Name != "goog-malware-shavar" || r.Adds != "" || r.Subs != "" {
		t.Errorf("unexpected ranges: %+v", r)
	}

	if _, err := NewListChunkRanges(""); err == nil {
		t.Error("empty list name should be rejected")
	}
}

func TestDefaultLists(t *testing.T) {
	lists := DefaultLists()
	if len(lists) != 2 || lists[0] != PhishingList || lists[1] != MalwareList {
		t.Errorf("unexpected default lists: %v", lists)
	}
}
