package netutil

import "testing"

func TestExtractNetloc(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://www.amazon.com/s?k=x", "www.amazon.com"},
		{"http://example.test:8080/", "example.test:8080"},
		{"http://example.test", "example.test"},
		{"www.olx.ua", "www.olx.ua"},
		{"www.olx.ua/path/deep", "www.olx.ua"},
		{"host:8080", "host:8080"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := ExtractNetloc(tc.in); got != tc.want {
			t.Errorf("ExtractNetloc(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
