package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/proxyvet/proxyvet/internal/ingest"
	"github.com/proxyvet/proxyvet/internal/model"
	"github.com/proxyvet/proxyvet/internal/store"
)

func newTestServer(t *testing.T, adminToken string) (*httptest.Server, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "registry.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	srv := NewServer("127.0.0.1", 0, adminToken, s, ingest.New(s, nil, nil))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, s
}

func get(t *testing.T, url string) Envelope {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, resp.StatusCode)
	}
	var env Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("GET %s: decode: %v", url, err)
	}
	return env
}

func TestAddAndList(t *testing.T) {
	ts, _ := newTestServer(t, "")

	env := get(t, ts.URL+"/add?proxy=http://10.0.0.1:8080")
	if env.Error {
		t.Fatalf("add failed: %v", env.Result)
	}
	payload, ok := env.Result.(map[string]any)
	if !ok || payload["id"] == nil {
		t.Fatalf("add payload = %v, want {id}", env.Result)
	}

	env = get(t, ts.URL+"/list")
	if env.Error {
		t.Fatalf("list failed: %v", env.Result)
	}
	items, ok := env.Result.([]any)
	if !ok || len(items) != 1 {
		t.Fatalf("list = %v, want one item", env.Result)
	}
	item := items[0].(map[string]any)
	if item["proxy"] != "http://10.0.0.1:8080" {
		t.Errorf("proxy = %v", item["proxy"])
	}
	if item["is_alive"] != false {
		t.Errorf("is_alive = %v, want false before any probe", item["is_alive"])
	}
	if item["recheck_every"] != nil {
		t.Errorf("recheck_every = %v, want null for one-shot", item["recheck_every"])
	}
}

func TestAddExpandsUnspecified(t *testing.T) {
	ts, _ := newTestServer(t, "")

	env := get(t, ts.URL+"/add?proxy=10.0.0.1:8080&recheck_every=60")
	if env.Error {
		t.Fatalf("add failed: %v", env.Result)
	}
	payload := env.Result.(map[string]any)
	ids, ok := payload["ids"].([]any)
	if !ok || len(ids) != 3 {
		t.Fatalf("payload = %v, want {ids: [3 ids]}", env.Result)
	}
}

func TestAddValidation(t *testing.T) {
	ts, _ := newTestServer(t, "")

	cases := []struct {
		name string
		path string
	}{
		{"missing proxy", "/add"},
		{"bad grammar", "/add?proxy=nonsense"},
		{"bad scheme", "/add?proxy=ftp://10.0.0.1:21"},
		{"zero recheck", "/add?proxy=http://10.0.0.1:8080&recheck_every=0"},
		{"negative recheck", "/add?proxy=http://10.0.0.1:8080&recheck_every=-5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := get(t, ts.URL+tc.path)
			if !env.Error {
				t.Errorf("GET %s should fail, got %v", tc.path, env.Result)
			}
		})
	}
}

func TestAddDuplicate(t *testing.T) {
	ts, _ := newTestServer(t, "")

	if env := get(t, ts.URL+"/add?proxy=http://10.0.0.1:8080"); env.Error {
		t.Fatalf("add: %v", env.Result)
	}
	env := get(t, ts.URL+"/add?proxy=http://10.0.0.1:8080")
	if !env.Error || env.Result != "proxy already exists" {
		t.Errorf("duplicate add = %+v", env)
	}
}

func TestRemove(t *testing.T) {
	ts, s := newTestServer(t, "")
	id, err := s.AddProxy(model.Proxy{Host: "10.0.0.1", Port: 8080, Protocol: model.ProtocolHTTP})
	if err != nil {
		t.Fatalf("AddProxy: %v", err)
	}

	env := get(t, ts.URL+"/remove?id="+itoa(id))
	if env.Error || env.Result != "ok" {
		t.Fatalf("remove = %+v", env)
	}
	env = get(t, ts.URL+"/remove?id="+itoa(id))
	if env.Error || env.Result != "not_exists" {
		t.Errorf("second remove = %+v", env)
	}
}

func TestCheckLifecycle(t *testing.T) {
	ts, _ := newTestServer(t, "")

	env := get(t, ts.URL+"/add_check?"+checkQuery("example", `{"url": "http://example.com/"}`))
	if env.Error {
		t.Fatalf("add_check: %v", env.Result)
	}

	env = get(t, ts.URL+"/list_check?name=example")
	if env.Error {
		t.Fatalf("list_check: %v", env.Result)
	}
	payload := env.Result.(map[string]any)
	if payload["name"] != "example" {
		t.Errorf("payload = %v", payload)
	}

	env = get(t, ts.URL+"/remove_check?name=example")
	if env.Error || env.Result != "ok" {
		t.Fatalf("remove_check = %+v", env)
	}
	env = get(t, ts.URL+"/remove_check?name=example")
	if env.Error || env.Result != "not_exists" {
		t.Errorf("second remove_check = %+v", env)
	}
}

func TestAddCheckValidation(t *testing.T) {
	ts, _ := newTestServer(t, "")

	env := get(t, ts.URL+"/add_check")
	if !env.Error {
		t.Error("missing definition should fail")
	}
	env = get(t, ts.URL+"/add_check?"+checkQuery("", "{}"))
	if !env.Error {
		t.Error("definition without url should fail")
	}
}

func TestProxyCheckAssociation(t *testing.T) {
	ts, s := newTestServer(t, "")
	id, err := s.AddProxy(model.Proxy{Host: "10.0.0.1", Port: 8080, Protocol: model.ProtocolHTTP})
	if err != nil {
		t.Fatalf("AddProxy: %v", err)
	}
	if env := get(t, ts.URL+"/add_check?"+checkQuery("example", `{"url": "http://example.com/"}`)); env.Error {
		t.Fatalf("add_check: %v", env.Result)
	}

	env := get(t, ts.URL+"/add_proxy_check?proxy_id="+itoa(id)+"&check_name=example")
	if env.Error || env.Result != "ok" {
		t.Fatalf("add_proxy_check = %+v", env)
	}

	env = get(t, ts.URL+"/remove_proxy_check?proxy_id="+itoa(id)+"&check_name=example")
	if env.Error || env.Result != "ok" {
		t.Fatalf("remove_proxy_check = %+v", env)
	}
	env = get(t, ts.URL+"/remove_proxy_check?proxy_id="+itoa(id)+"&check_name=example")
	if env.Error || env.Result != "not_exists" {
		t.Errorf("second remove_proxy_check = %+v", env)
	}
}

func TestAuth(t *testing.T) {
	ts, _ := newTestServer(t, "secret-token")

	// Healthz stays open.
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d", resp.StatusCode)
	}

	// No token.
	resp, err = http.Get(ts.URL + "/list")
	if err != nil {
		t.Fatalf("GET /list: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	// Valid token.
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/list", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /list with token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("authenticated status = %d", resp.StatusCode)
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func checkQuery(name, definition string) string {
	q := url.Values{}
	if name != "" {
		q.Set("name", name)
	}
	q.Set("definition", definition)
	return q.Encode()
}
