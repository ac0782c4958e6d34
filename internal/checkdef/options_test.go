package checkdef

import (
	"testing"
	"time"

	"github.com/proxyvet/proxyvet/internal/model"
)

func TestParseDefaults(t *testing.T) {
	opts, err := Parse(`{"url": "http://example.com/"}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if opts.URL != "http://example.com/" {
		t.Errorf("URL = %q", opts.URL)
	}
	if len(opts.Status) != 1 || opts.Status[0] != 200 {
		t.Errorf("Status = %v, want [200]", opts.Status)
	}
	if len(opts.XPath) != 0 {
		t.Errorf("XPath = %v, want empty", opts.XPath)
	}
	if opts.Timeout() != 2*time.Second {
		t.Errorf("Timeout = %v, want 2s", opts.Timeout())
	}
}

func TestParseExplicitNullStatusAcceptsAnything(t *testing.T) {
	for _, doc := range []string{
		`{"url": "http://example.com/", "status": null}`,
		`{"url": "http://example.com/", "status": []}`,
	} {
		opts, err := Parse(doc)
		if err != nil {
			t.Fatalf("Parse(%s): %v", doc, err)
		}
		if opts.Status != nil {
			t.Errorf("Parse(%s).Status = %v, want nil", doc, opts.Status)
		}
		if !opts.StatusAccepts(503) {
			t.Errorf("Parse(%s) should accept any status", doc)
		}
	}
}

func TestStatusAccepts(t *testing.T) {
	opts := Options{Status: []int{200, 301}}
	if !opts.StatusAccepts(200) || !opts.StatusAccepts(301) {
		t.Error("listed statuses must be accepted")
	}
	if opts.StatusAccepts(404) {
		t.Error("unlisted status must be rejected")
	}
}

func TestParseAssertionKinds(t *testing.T) {
	opts, err := Parse(`{"url": "http://example.com/", "xpath": [
		{"xpath": "//title"},
		{"xpath": "//div", "type": "ban"}
	]}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if opts.XPath[0].Kind != model.AssertionAlive {
		t.Errorf("omitted kind = %q, want alive", opts.XPath[0].Kind)
	}
	if opts.XPath[1].Kind != model.AssertionBan {
		t.Errorf("kind = %q, want ban", opts.XPath[1].Kind)
	}
}

func TestParseRejects(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"not json", `nope`},
		{"no url", `{}`},
		{"empty url", `{"url": ""}`},
		{"relative url", `{"url": "/path"}`},
		{"non-http scheme", `{"url": "ftp://example.com/"}`},
		{"zero timeout", `{"url": "http://example.com/", "timeout": 0}`},
		{"negative timeout", `{"url": "http://example.com/", "timeout": -3}`},
		{"empty xpath expr", `{"url": "http://example.com/", "xpath": [{"xpath": ""}]}`},
		{"unknown xpath kind", `{"url": "http://example.com/", "xpath": [{"xpath": "//p", "type": "maybe"}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse(tc.doc); err == nil {
				t.Errorf("Parse(%s) should fail", tc.doc)
			}
		})
	}
}

func TestCanonicalStable(t *testing.T) {
	docs := []string{
		`{"url": "http://example.com/", "status": [200], "xpath": [{"xpath": "//title", "type": "alive"}], "timeout": 5}`,
		`{"timeout": 5, "xpath": [{"type": "alive", "xpath": "//title"}], "status": [200], "url": "http://example.com/"}`,
	}
	var canonicals []string
	for _, doc := range docs {
		opts, err := Parse(doc)
		if err != nil {
			t.Fatalf("Parse(%s): %v", doc, err)
		}
		c, err := opts.Canonical()
		if err != nil {
			t.Fatalf("Canonical: %v", err)
		}
		canonicals = append(canonicals, c)
	}
	if canonicals[0] != canonicals[1] {
		t.Errorf("key order changed the canonical form:\n%s\n%s", canonicals[0], canonicals[1])
	}

	// Round trip: parsing the canonical form reproduces it.
	opts, err := Parse(canonicals[0])
	if err != nil {
		t.Fatalf("Parse(canonical): %v", err)
	}
	again, err := opts.Canonical()
	if err != nil {
		t.Fatalf("Canonical: %v", err)
	}
	if again != canonicals[0] {
		t.Errorf("canonical not stable:\n%s\n%s", canonicals[0], again)
	}
}

func TestNetloc(t *testing.T) {
	opts, err := Parse(`{"url": "https://www.example.com:8443/search?q=1"}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := opts.Netloc(); got != "www.example.com:8443" {
		t.Errorf("Netloc = %q", got)
	}
}
