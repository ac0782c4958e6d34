// Package assertion evaluates XPath assertions against fetched page bodies.
package assertion

import (
	"bytes"

	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"

	"github.com/proxyvet/proxyvet/internal/model"
)

// Policy controls how assertion matches translate into a pass verdict.
type Policy struct {
	// RequireAliveMatch demands at least one matched alive-kind assertion for
	// a pass. The default (false) keeps the historical behaviour where any
	// matched assertion, ban ones included, counts as "content understood".
	RequireAliveMatch bool
}

// Result is the outcome of evaluating a body against an assertion list.
type Result struct {
	IsPassed bool
	IsBanned bool
}

// Evaluate parses body as lenient HTML and runs every assertion against it.
//
// An empty assertion list passes unconditionally: the status check alone
// governs. A body that fails to parse fails every non-empty assertion list.
// Individual expressions that fail to compile simply never match.
func Evaluate(body []byte, asserts []model.Assertion, policy Policy) Result {
	if len(asserts) == 0 {
		return Result{IsPassed: true}
	}

	doc, err := htmlquery.Parse(bytes.NewReader(body))
	if err != nil || doc == nil {
		return Result{}
	}

	var anyMatched, aliveMatched, banMatched bool
	for _, a := range asserts {
		expr, err := xpath.Compile(a.Expr)
		if err != nil {
			continue
		}
		nodes := htmlquery.QuerySelectorAll(doc, expr)
		if len(nodes) == 0 {
			continue
		}
		anyMatched = true
		switch a.Kind {
		case model.AssertionBan:
			banMatched = true
		default:
			aliveMatched = true
		}
	}

	passed := anyMatched
	if policy.RequireAliveMatch {
		passed = aliveMatched
	}
	return Result{IsPassed: passed, IsBanned: banMatched}
}
