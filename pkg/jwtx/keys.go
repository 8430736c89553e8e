package jwtx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	neturl "net/url"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

const (
	DefaultRefreshInterval = 15 * time.Minute

	// DefaultUnknownKIDInterval bounds how often a token with an unseen kid
	// may trigger a refetch, so garbage tokens can't hammer the provider.
	DefaultUnknownKIDInterval = 30 * time.Second

	fetchTimeout = 5 * time.Second
)

var ErrNoKey = errors.New("jwtx: key not found")

// KeysOptions tune ProviderKeys. Zero values take the defaults.
type KeysOptions struct {
	HTTPClient         *http.Client
	RefreshInterval    time.Duration
	UnknownKIDInterval time.Duration
	Logger             *slog.Logger

	// OnRefresh, when set, is called after every fetch of the key set with
	// its result.
	OnRefresh func(error)
}

// ProviderKeys holds the signing keys published on the provider's certs
// endpoint. The set refreshes in the background, and a token signed with
// a kid we haven't seen triggers a rate limited refetch, which is how key
// rotation shows up. Encryption keys in the same set are never used.
type ProviderKeys struct {
	url     string
	remote  jwkset.Storage
	keyfunc keyfunc.Keyfunc
	stop    context.CancelFunc
}

// NewProviderKeys makes the first fetch before returning. A failed first
// fetch is not an error: the set stays empty until a refresh succeeds and
// Ready reports false meanwhile.
func NewProviderKeys(url string, opts KeysOptions) (*ProviderKeys, error) {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}
	if opts.UnknownKIDInterval <= 0 {
		opts.UnknownKIDInterval = DefaultUnknownKIDInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	client := *opts.HTTPClient
	client.Transport = &refreshReporter{next: client.Transport, report: opts.OnRefresh}

	ctx, stop := context.WithCancel(context.Background())
	logger := opts.Logger

	certsURL, err := neturl.Parse(url)
	if err != nil {
		stop()
		return nil, fmt.Errorf("jwtx: jwks url %s: %w", url, err)
	}

	remote, err := jwkset.NewStorageFromHTTP(certsURL, jwkset.HTTPClientStorageOptions{
		Client:                    &client,
		Ctx:                       ctx,
		HTTPTimeout:               fetchTimeout,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           opts.RefreshInterval,
		RefreshErrorHandler: func(ctx context.Context, err error) {
			logger.WarnContext(ctx, "jwks refresh failed", "url", url, "error", err)
		},
	})
	if err != nil {
		stop()
		return nil, fmt.Errorf("jwtx: jwks storage for %s: %w", url, err)
	}

	storage, err := jwkset.NewHTTPClient(jwkset.HTTPClientOptions{
		HTTPURLs: map[string]jwkset.Storage{url: remote},
		// Also the budget of the refetch itself. A throttled lookup
		// fails at once instead of waiting for the limiter.
		RateLimitWaitMax:  fetchTimeout,
		RefreshUnknownKID: rate.NewLimiter(rate.Every(opts.UnknownKIDInterval), 1),
	})
	if err != nil {
		stop()
		return nil, fmt.Errorf("jwtx: jwks client for %s: %w", url, err)
	}

	kf, err := keyfunc.New(keyfunc.Options{
		Ctx:          ctx,
		Storage:      storage,
		UseWhitelist: []jwkset.USE{jwkset.UseSig},
	})
	if err != nil {
		stop()
		return nil, fmt.Errorf("jwtx: keyfunc for %s: %w", url, err)
	}

	return &ProviderKeys{url: url, remote: remote, keyfunc: kf, stop: stop}, nil
}

// URL is the certs endpoint the keys come from.
func (p *ProviderKeys) URL() string { return p.url }

// Keyfunc implements KeyResolver.
func (p *ProviderKeys) Keyfunc(t *jwt.Token) (any, error) {
	key, err := p.keyfunc.Keyfunc(t)
	if err != nil {
		return nil, errors.Join(ErrNoKey, err)
	}
	return key, nil
}

// Count returns how many keys are loaded. It never goes to the network.
func (p *ProviderKeys) Count(ctx context.Context) int {
	keys, err := p.remote.KeyReadAll(ctx)
	if err != nil {
		return 0
	}
	return len(keys)
}

// Ready reports whether at least one key is loaded.
func (p *ProviderKeys) Ready(ctx context.Context) bool {
	return p.Count(ctx) > 0
}

// Close stops the background refresh.
func (p *ProviderKeys) Close() {
	p.stop()
}

// refreshReporter tells OnRefresh how each fetch of the key set went.
type refreshReporter struct {
	next   http.RoundTripper
	report func(error)
}

func (rr *refreshReporter) RoundTrip(req *http.Request) (*http.Response, error) {
	next := rr.next
	if next == nil {
		next = http.DefaultTransport
	}
	resp, err := next.RoundTrip(req)
	if rr.report != nil {
		switch {
		case err != nil:
			rr.report(err)
		case resp.StatusCode != http.StatusOK:
			rr.report(fmt.Errorf("jwtx: jwks request failed with status %d", resp.StatusCode))
		default:
			rr.report(nil)
		}
	}
	return resp, err
}
