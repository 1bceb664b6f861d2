package hosted_test

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openkcm/link-checkout/pkg/hosted"
)

func TestQueryToFragment(t *testing.T) {
	got := hosted.QueryToFragment("https://pay.example.com/embedded?a=1&b=2")

	assert.NotContains(t, got, "?")
	assert.Equal(t, 1, strings.Count(got, "#"))
	_, fragment, _ := strings.Cut(got, "#")
	assert.Equal(t, "a=1&b=2", fragment)
}

func TestBuildLoadURL(t *testing.T) {
	valid := hosted.LoadParams{
		BaseURL:        "https://pay.example.com/embedded",
		Component:      "payment",
		Locale:         "en_US",
		PublishableKey: "pk_test_123",
		ClientSecret:   "cs_test_456",
		Appearance: map[string]string{
			"colorPrimary":  "#0055de",
			"client_secret": "must not override",
		},
	}

	got, err := hosted.BuildLoadURL(valid)
	require.NoError(t, err)

	assert.NotContains(t, got, "?", "parameters must never travel in the request line")
	assert.Equal(t, 1, strings.Count(got, "#"))

	base, fragment, ok := strings.Cut(got, "#")
	require.True(t, ok)
	assert.Equal(t, "https://pay.example.com/embedded", base)

	params, err := url.ParseQuery(fragment)
	require.NoError(t, err)
	assert.Equal(t, "payment", params.Get("component"))
	assert.Equal(t, "en-US", params.Get("locale"))
	assert.Equal(t, "pk_test_123", params.Get("publishable_key"))
	assert.Equal(t, "cs_test_456", params.Get("client_secret"))
	assert.Equal(t, "#0055de", params.Get("colorPrimary"))

	tests := []struct {
		name    string
		mutate  func(p *hosted.LoadParams)
		wantErr string
	}{
		{name: "missing secret", mutate: func(p *hosted.LoadParams) { p.ClientSecret = "" }, wantErr: "clientSecret is required"},
		{name: "relative base", mutate: func(p *hosted.LoadParams) { p.BaseURL = "/embedded" }, wantErr: "baseURL must be an absolute URL"},
		{name: "bad locale", mutate: func(p *hosted.LoadParams) { p.Locale = "english" }, wantErr: "locale must be in language-REGION form"},
		{name: "base with fragment", mutate: func(p *hosted.LoadParams) { p.BaseURL = "https://pay.example.com/embedded#x" }, wantErr: hosted.ErrBaseURLFragment.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)

			_, err := hosted.BuildLoadURL(p)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNormalizeLocale(t *testing.T) {
	tests := map[string]string{
		"en_US": "en-US",
		"EN-us": "en-US",
		"de-DE": "de-DE",
		"fr":    "fr",
	}
	for in, want := range tests {
		assert.Equal(t, want, hosted.NormalizeLocale(in), in)
	}
}
