package e2eedm

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// MnemonicPrompt asks the user for their 24-word recovery phrase. It should
// return ErrUserCancelled if the user backs out.
type MnemonicPrompt func(ctx context.Context) (string, error)

// clientConfig holds configuration for the client.
type clientConfig struct {
	baseURL    string
	token      string
	csrfToken  string
	httpClient *http.Client
	timeout    time.Duration
	retries    int
	retryOn    []int

	actorID  string
	userName string
	rpID     string

	logger        *logrus.Logger
	registerer    prometheus.Registerer
	store         KeyStore
	authenticator Authenticator
	prompt        MnemonicPrompt
	activeKIDHint string

	lookupLimit rate.Limit
	lookupBurst int
}

// Option configures the client.
type Option func(*clientConfig)

// WithBaseURL sets the instance URL, e.g. "https://egregoros.example".
func WithBaseURL(url string) Option {
	return func(c *clientConfig) {
		c.baseURL = url
	}
}

// WithToken sets the bearer token for the signed-in account.
func WithToken(token string) Option {
	return func(c *clientConfig) {
		c.token = token
	}
}

// WithCSRFToken sets the x-csrf-token header sent on every request, for
// cookie-authenticated sessions.
func WithCSRFToken(token string) Option {
	return func(c *clientConfig) {
		c.csrfToken = token
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *clientConfig) {
		c.httpClient = client
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *clientConfig) {
		c.timeout = timeout
	}
}

// WithRetries sets the number of retries for API calls. Zero disables
// retries.
func WithRetries(count int) Option {
	return func(c *clientConfig) {
		c.retries = count
	}
}

// WithRetryOn sets the HTTP status codes that trigger a retry.
// Default: [408, 429, 500, 502, 503, 504]
func WithRetryOn(statusCodes []int) Option {
	return func(c *clientConfig) {
		c.retryOn = statusCodes
	}
}

// WithActorID sets the ActivityPub id of the signed-in actor. Required for
// Encrypt and Decrypt.
func WithActorID(actorID string) Option {
	return func(c *clientConfig) {
		c.actorID = actorID
	}
}

// WithUser sets the account name shown by the authenticator when a passkey
// is created.
func WithUser(name string) Option {
	return func(c *clientConfig) {
		c.userName = name
	}
}

// WithRelyingPartyID sets the WebAuthn relying party id. Defaults to the
// host of the base URL.
func WithRelyingPartyID(id string) Option {
	return func(c *clientConfig) {
		c.rpID = id
	}
}

// WithLogger sets the logger. The default logs warnings and errors to
// stderr.
func WithLogger(logger *logrus.Logger) Option {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// WithMetricsRegisterer registers the client's Prometheus collectors with
// reg.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(c *clientConfig) {
		c.registerer = reg
	}
}

// WithKeyStore sets where unwrapped keys are cached between sessions. The
// default keeps them in memory only.
func WithKeyStore(store KeyStore) Option {
	return func(c *clientConfig) {
		c.store = store
	}
}

// WithAuthenticator enables passkey enrollment and unlock.
func WithAuthenticator(auth Authenticator) Option {
	return func(c *clientConfig) {
		c.authenticator = auth
	}
}

// WithMnemonicPrompt enables unlock with the recovery phrase.
func WithMnemonicPrompt(prompt MnemonicPrompt) Option {
	return func(c *clientConfig) {
		c.prompt = prompt
	}
}

// WithActiveKIDHint names the key id expected to be active, so a cached key
// can be used without first fetching the status.
func WithActiveKIDHint(kid string) Option {
	return func(c *clientConfig) {
		c.activeKIDHint = kid
	}
}

// WithLookupRateLimit throttles actor key lookups to limit per second with
// the given burst.
func WithLookupRateLimit(limit float64, burst int) Option {
	return func(c *clientConfig) {
		c.lookupLimit = rate.Limit(limit)
		c.lookupBurst = burst
	}
}
