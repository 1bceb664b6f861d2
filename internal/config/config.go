// Package config defines the necessary types to configure the SDK and the
// sandbox command. An example config file config.yaml is provided in the repository.
package config

import (
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
)

type Config struct {
	commoncfg.BaseConfig `mapstructure:",squash" yaml:",inline"`

	HTTP HTTPServer `yaml:"http"`

	ValKey  ValKey        `yaml:"valkey"`
	Bridge  Bridge        `yaml:"bridge"`
	Browser Browser       `yaml:"browser"`
	Hosted  HostedSurface `yaml:"hosted"`
	Flow    Flow          `yaml:"flow"`
	Sandbox Sandbox       `yaml:"sandbox"`
}

// HTTPServer serves the bridge transport of the sandbox.
type HTTPServer struct {
	Address         string        `yaml:"address" default:"127.0.0.1:8080"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"5s"`
}

type ValKey struct {
	Host     commoncfg.SourceRef `yaml:"host"`
	User     commoncfg.SourceRef `yaml:"user"`
	Password commoncfg.SourceRef `yaml:"password"`
	Prefix   string              `yaml:"prefix" default:"link-checkout"`
}

type Bridge struct {
	// HandlerTimeout bounds every bridge handler invocation.
	HandlerTimeout time.Duration `yaml:"handlerTimeout" default:"10s"`
	PathPrefix     string        `yaml:"pathPrefix" default:"/bridge"`
}

type Browser struct {
	CallbackScheme string        `yaml:"callbackScheme" default:"link-checkout"`
	ListenAddress  string        `yaml:"listenAddress" default:"127.0.0.1:0"`
	SessionTimeout time.Duration `yaml:"sessionTimeout" default:"10m"`
	// OpenSystemBrowser opens session URLs with the platform browser. When
	// false the URL is only logged.
	OpenSystemBrowser bool `yaml:"openSystemBrowser"`
}

type HostedSurface struct {
	BaseURL        string              `yaml:"baseURL"`
	Component      string              `yaml:"component" default:"payment"`
	Locale         string              `yaml:"locale" default:"en-US"`
	PublishableKey commoncfg.SourceRef `yaml:"publishableKey"`
	ClientSecret   commoncfg.SourceRef `yaml:"clientSecret"`
	AppearanceFile string              `yaml:"appearanceFile"`
	CacheTTL       time.Duration       `yaml:"cacheTTL" default:"5m"`
}

type Flow struct {
	// CacheKey identifies the cached linked account of this host installation.
	CacheKey string `yaml:"cacheKey" default:"default"`
	// AccountTTL bounds how long a cached account survives without a flow touching it.
	AccountTTL time.Duration `yaml:"accountTTL" default:"720h"`
}

// Sandbox scripts the embedding application driven by the sandbox command.
type Sandbox struct {
	AccountID           string `yaml:"accountID" default:"acct_sandbox"`
	Email               string `yaml:"email" default:"sandbox@example.com"`
	RequireVerification bool   `yaml:"requireVerification"`
	// AttestationFailure fails the scripted sign-up with an integrity error
	// so the flow bails out to SignUpURL in the browser.
	AttestationFailure bool   `yaml:"attestationFailure"`
	SignUpURL          string `yaml:"signUpURL"`
	VerificationURL    string `yaml:"verificationURL"`

	Payment SandboxPayment `yaml:"payment"`
	// ConfirmOutcome is the outcome of the scripted confirmation:
	// completed, canceled or failed.
	ConfirmOutcome string        `yaml:"confirmOutcome" default:"completed"`
	ConfirmDelay   time.Duration `yaml:"confirmDelay" default:"500ms"`
}

type SandboxPayment struct {
	ID       string `yaml:"id" default:"pd_sandbox"`
	Type     string `yaml:"type" default:"card"`
	Last4    string `yaml:"last4" default:"4242"`
	Amount   int64  `yaml:"amount" default:"1000"`
	Currency string `yaml:"currency" default:"usd"`
}
