package assertion

import (
	"testing"

	"github.com/proxyvet/proxyvet/internal/model"
)

const searchPage = `<html><head><title>Search</title></head>
<body><form><input name="q" type="text"></form></body></html>`

const banPage = `<html><body><div class="captcha">Are you a robot?</div></body></html>`

const mixedPage = `<html><body>
<form><input name="q" type="text"></form>
<div class="captcha">unusual traffic</div>
</body></html>`

func alive(expr string) model.Assertion {
	return model.Assertion{Expr: expr, Kind: model.AssertionAlive}
}

func ban(expr string) model.Assertion {
	return model.Assertion{Expr: expr, Kind: model.AssertionBan}
}

func TestEvaluate(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		asserts []model.Assertion
		policy  Policy
		want    Result
	}{
		{
			name: "empty list passes",
			body: searchPage,
			want: Result{IsPassed: true},
		},
		{
			name:    "alive match",
			body:    searchPage,
			asserts: []model.Assertion{alive(`//input[@name="q"]`)},
			want:    Result{IsPassed: true},
		},
		{
			name:    "no match",
			body:    banPage,
			asserts: []model.Assertion{alive(`//input[@name="q"]`)},
			want:    Result{},
		},
		{
			name:    "ban match alone still passes by default",
			body:    banPage,
			asserts: []model.Assertion{alive(`//input[@name="q"]`), ban(`//div[@class="captcha"]`)},
			want:    Result{IsPassed: true, IsBanned: true},
		},
		{
			name:    "ban match alone fails under strict policy",
			body:    banPage,
			asserts: []model.Assertion{alive(`//input[@name="q"]`), ban(`//div[@class="captcha"]`)},
			policy:  Policy{RequireAliveMatch: true},
			want:    Result{IsBanned: true},
		},
		{
			name:    "alive and ban both match",
			body:    mixedPage,
			asserts: []model.Assertion{alive(`//input[@name="q"]`), ban(`//div[@class="captcha"]`)},
			want:    Result{IsPassed: true, IsBanned: true},
		},
		{
			name:    "invalid expression never matches",
			body:    searchPage,
			asserts: []model.Assertion{alive(`//[broken`)},
			want:    Result{},
		},
		{
			name:    "invalid expression does not shadow valid one",
			body:    searchPage,
			asserts: []model.Assertion{alive(`//[broken`), alive(`//title`)},
			want:    Result{IsPassed: true},
		},
		{
			name:    "non-html body",
			body:    `{"just": "json"}`,
			asserts: []model.Assertion{alive(`//input`)},
			want:    Result{},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Evaluate([]byte(tc.body), tc.asserts, tc.policy)
			if got != tc.want {
				t.Errorf("Evaluate = %+v, want %+v", got, tc.want)
			}
		})
	}
}
