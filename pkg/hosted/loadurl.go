// Package hosted embeds server rendered surfaces: it builds their load URL
// and serves their bridge requests.
package hosted

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/openkcm/link-checkout/internal/validation"
)

const (
	paramComponent      = "component"
	paramLocale         = "locale"
	paramPublishableKey = "publishable_key"
	paramClientSecret   = "client_secret"
)

var (
	validate = validation.New()

	ErrBaseURLFragment = errors.New("base url must not carry a fragment")
)

// LoadParams are the query parameters of a hosted surface load URL.
type LoadParams struct {
	BaseURL        string `json:"baseURL" validate:"required,http_url"`
	Component      string `json:"component" validate:"required"`
	Locale         string `json:"locale" validate:"required,locale"`
	PublishableKey string `json:"publishableKey" validate:"required"`
	ClientSecret   string `json:"clientSecret" validate:"required"`
	// Appearance entries are added as extra parameters. They cannot
	// override the fixed ones.
	Appearance map[string]string `json:"appearance"`
}

// BuildLoadURL assembles the load URL and moves its query into the fragment
// so the parameters never reach a server in a request line.
func BuildLoadURL(p LoadParams) (string, error) {
	p.Locale = NormalizeLocale(p.Locale)
	if err := validate.Struct(p); err != nil {
		return "", fmt.Errorf("validating load parameters: %w", validation.Normalize(err))
	}

	u, err := url.Parse(p.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base url: %w", err)
	}
	if u.Fragment != "" || strings.Contains(p.BaseURL, "#") {
		return "", ErrBaseURLFragment
	}

	q := u.Query()
	for k, v := range p.Appearance {
		q.Set(k, v)
	}
	q.Set(paramComponent, p.Component)
	q.Set(paramLocale, p.Locale)
	q.Set(paramPublishableKey, p.PublishableKey)
	q.Set(paramClientSecret, p.ClientSecret)
	u.RawQuery = q.Encode()

	return QueryToFragment(u.String()), nil
}

// QueryToFragment replaces the first "?" of rawURL with "#".
func QueryToFragment(rawURL string) string {
	return strings.Replace(rawURL, "?", "#", 1)
}

// NormalizeLocale turns "en_US" or "EN-us" into "en-US". Anything that is not
// a language and region pair is returned unchanged.
func NormalizeLocale(locale string) string {
	lang, region, ok := strings.Cut(strings.ReplaceAll(locale, "_", "-"), "-")
	if !ok {
		return locale
	}
	return strings.ToLower(lang) + "-" + strings.ToUpper(region)
}
