// Package imagery finds a picture URL for a car by probing a few public
// image hosts, falling back to a placeholder that names the car.
package imagery

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"carrec/internal/logging"
	"carrec/internal/metrics"
)

const (
	defaultProbeTimeout = 2 * time.Second
	placeholderBase     = "https://via.placeholder.com/200x150"
)

// Source builds a candidate image URL for a car. Year is 0 when unknown.
type Source func(mk, model string, year int) string

// DefaultSources are the hosts probed, in order.
var DefaultSources = []Source{
	func(mk, model string, year int) string {
		q := url.Values{}
		q.Set("customer", "img")
		q.Set("make", mk)
		q.Set("modelFamily", model)
		if year > 0 {
			q.Set("year", strconv.Itoa(year))
		}
		return "https://cdn.imagin.studio/getimage?" + q.Encode()
	},
	func(mk, model string, year int) string {
		return "https://www.carpixel.net/w/61d36/" + slug(mk) + "-" + slug(model) + yearSuffix(year) + ".jpg"
	},
}

// Resolver probes sources with HEAD requests and caches the answer per car
// for its own lifetime.
type Resolver struct {
	client  *http.Client
	sources []Source
	timeout time.Duration
	log     zerolog.Logger

	mu    sync.Mutex
	cache map[string]string
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithHTTPClient replaces the probing client.
func WithHTTPClient(c *http.Client) Option { return func(r *Resolver) { r.client = c } }

// WithSources replaces DefaultSources.
func WithSources(s ...Source) Option { return func(r *Resolver) { r.sources = s } }

// WithProbeTimeout bounds each HEAD request.
func WithProbeTimeout(d time.Duration) Option { return func(r *Resolver) { r.timeout = d } }

// New creates a resolver.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		client:  http.DefaultClient,
		sources: DefaultSources,
		timeout: defaultProbeTimeout,
		log:     logging.Component("imagery"),
		cache:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// URL returns the first source answering 200 to a HEAD request, or a
// placeholder. It never fails.
func (r *Resolver) URL(ctx context.Context, mk, model string, year int) string {
	mk, model = strings.TrimSpace(mk), strings.TrimSpace(model)
	if mk == "" && model == "" {
		return Placeholder("", "")
	}
	key := strings.ToLower(mk + "\x00" + model + "\x00" + strconv.Itoa(year))

	r.mu.Lock()
	cached, ok := r.cache[key]
	r.mu.Unlock()
	if ok {
		metrics.ImageLookups.WithLabelValues("cache").Inc()
		return cached
	}

	found := ""
	for _, src := range r.sources {
		u := src(mk, model, year)
		if r.probe(ctx, u) {
			found = u
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	result := "found"
	if found == "" {
		found, result = Placeholder(mk, model), "placeholder"
	}
	metrics.ImageLookups.WithLabelValues(result).Inc()

	if ctx.Err() == nil {
		r.mu.Lock()
		r.cache[key] = found
		r.mu.Unlock()
	}
	return found
}

func (r *Resolver) probe(ctx context.Context, u string) bool {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u, nil)
	if err != nil {
		return false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		r.log.Debug().Err(err).Str("url", u).Msg("image probe failed")
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Placeholder returns a placeholder image URL captioned with the car name.
func Placeholder(mk, model string) string {
	text := strings.TrimSpace(mk + " " + model)
	if text == "" {
		text = "Car Image"
	}
	return placeholderBase + "?text=" + url.QueryEscape(text)
}

func slug(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "-")
}

func yearSuffix(year int) string {
	if year <= 0 {
		return ""
	}
	return "-" + strconv.Itoa(year)
}
