// Package checkdef models check definitions: the declarative bundle of target
// URL, accepted status codes, XPath assertions, and timeout. The canonical
// JSON form (fixed key order url, status, xpath, timeout) is the uniqueness
// key for stored definitions.
package checkdef

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/proxyvet/proxyvet/internal/model"
	"github.com/proxyvet/proxyvet/internal/netutil"
)

// DefaultTimeout is applied when a definition omits its timeout. Overridable
// at startup before any definition is parsed.
var DefaultTimeout = 2 * time.Second

// DefaultStatus is applied when a definition omits its status set.
var DefaultStatus = []int{200}

// Options is a fully-resolved check definition. Field order matches the
// canonical JSON key order, so encoding/json produces the canonical form
// directly.
type Options struct {
	URL string `json:"url"`
	// Status is the accepted response status set. nil serializes as JSON
	// null and means "any status is acceptable".
	Status     []int             `json:"status"`
	XPath      []model.Assertion `json:"xpath"`
	TimeoutSec int               `json:"timeout"`
}

// rawOptions mirrors Options with pointer fields so Parse can tell omitted
// keys apart from explicit nulls and apply defaults.
type rawOptions struct {
	URL     *string           `json:"url"`
	Status  []int             `json:"status"`
	XPath   []model.Assertion `json:"xpath"`
	Timeout *int              `json:"timeout"`
}

// Timeout returns the probe deadline as a duration.
func (o Options) Timeout() time.Duration {
	if o.TimeoutSec <= 0 {
		return DefaultTimeout
	}
	return time.Duration(o.TimeoutSec) * time.Second
}

// StatusAccepts reports whether a response status satisfies the definition.
// A nil status set accepts everything.
func (o Options) StatusAccepts(status int) bool {
	if o.Status == nil {
		return true
	}
	for _, s := range o.Status {
		if s == status {
			return true
		}
	}
	return false
}

// Netloc returns the network location the definition targets.
func (o Options) Netloc() string {
	return netutil.ExtractNetloc(o.URL)
}

// Canonical serializes the options into canonical JSON. Stable under
// re-serialization: Parse(Canonical(o)).Canonical() == Canonical(o).
func (o Options) Canonical() (string, error) {
	if o.XPath == nil {
		o.XPath = []model.Assertion{}
	}
	data, err := json.Marshal(o)
	if err != nil {
		return "", fmt.Errorf("canonicalize definition: %w", err)
	}
	return string(data), nil
}

// Parse decodes a definition JSON document, validates it, and applies
// defaults for omitted fields. An explicit "status": null is preserved as
// the accept-anything set.
func Parse(data string) (Options, error) {
	var raw rawOptions
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return Options{}, fmt.Errorf("parse definition: %w", err)
	}
	if raw.URL == nil || *raw.URL == "" {
		return Options{}, fmt.Errorf("parse definition: attribute 'url' is required")
	}

	u, err := url.Parse(*raw.URL)
	if err != nil {
		return Options{}, fmt.Errorf("parse definition: invalid url %q: %w", *raw.URL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Options{}, fmt.Errorf("parse definition: url %q must be absolute http(s)", *raw.URL)
	}

	opts := Options{
		URL:    *raw.URL,
		Status: raw.Status,
		XPath:  raw.XPath,
	}

	// A document that omits "status" gets the default set; "status": null and
	// "status": [] both mean any status. json.Unmarshal leaves the slice nil
	// in the omitted, null, and absent cases alike, so re-decode to spot the
	// key.
	if !hasKey(data, "status") {
		opts.Status = append([]int(nil), DefaultStatus...)
	} else if len(raw.Status) == 0 {
		opts.Status = nil
	}

	for i, a := range opts.XPath {
		if a.Expr == "" {
			return Options{}, fmt.Errorf("parse definition: empty xpath expression")
		}
		switch a.Kind {
		case model.AssertionAlive, model.AssertionBan:
		case "":
			opts.XPath[i].Kind = model.AssertionAlive
		default:
			return Options{}, fmt.Errorf("parse definition: xpath type %q must be alive or ban", a.Kind)
		}
	}
	if opts.XPath == nil {
		opts.XPath = []model.Assertion{}
	}

	if raw.Timeout != nil {
		if *raw.Timeout <= 0 {
			return Options{}, fmt.Errorf("parse definition: timeout must be positive, got %d", *raw.Timeout)
		}
		opts.TimeoutSec = *raw.Timeout
	} else {
		opts.TimeoutSec = int(DefaultTimeout / time.Second)
	}

	return opts, nil
}

// hasKey reports whether a top-level key is present in a JSON object.
func hasKey(data, key string) bool {
	var m map[string]json.RawMessage
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return false
	}
	_, ok := m[key]
	return ok
}
