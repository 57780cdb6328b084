// Package download fetches package payloads over HTTP with a bounded worker
// pool, verifying sha256 checksums and reusing files already in place.
// Transient upstream failures are retried with exponential backoff, and a
// per-host circuit breaker stops hammering a mirror that keeps failing.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cenk/backoff"
	"github.com/rs/dnscache"
	circuit "github.com/rubyist/circuitbreaker"

	"github.com/cperrin88/yumsync/pkg/errors"
	"github.com/cperrin88/yumsync/pkg/fsutil"
	"github.com/cperrin88/yumsync/pkg/logger"
)

const checksumSHA256 = "sha256"

const (
	defaultRetries       = 3
	defaultBaseDelay     = 500 * time.Millisecond
	defaultTripThreshold = 5
	breakerCooldown      = 30 * time.Second
	breakerMaxCooldown   = 5 * time.Minute
)

// ManagerImpl is the HTTP download manager.
type ManagerImpl struct {
	client    *http.Client
	resolver  *dnscache.Resolver
	userAgent string

	retries       uint64
	baseDelay     time.Duration
	tripThreshold int64

	mu       sync.Mutex
	breakers map[string]*circuit.Breaker
}

var _ Manager = (*ManagerImpl)(nil)

// Option configures a ManagerImpl.
type Option func(*ManagerImpl)

// WithRetries sets how many times a transient failure is retried.
func WithRetries(n uint64) Option {
	return func(m *ManagerImpl) {
		m.retries = n
	}
}

// WithBaseDelay sets the first retry delay; later delays grow exponentially.
func WithBaseDelay(d time.Duration) Option {
	return func(m *ManagerImpl) {
		m.baseDelay = d
	}
}

// WithTripThreshold sets how many consecutive upstream failures open a
// host's circuit breaker.
func WithTripThreshold(n int64) Option {
	return func(m *ManagerImpl) {
		m.tripThreshold = n
	}
}

// NewManager creates a new download manager with the given timeout and user agent.
func NewManager(timeout time.Duration, userAgent string, opts ...Option) *ManagerImpl {
	if userAgent == "" {
		userAgent = "yumsync/1.0"
	}
	m := &ManagerImpl{
		resolver:      &dnscache.Resolver{},
		userAgent:     userAgent,
		retries:       defaultRetries,
		baseDelay:     defaultBaseDelay,
		tripThreshold: defaultTripThreshold,
		breakers:      make(map[string]*circuit.Breaker),
	}
	m.client = &http.Client{Timeout: timeout, Transport: m.transport()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// transport dials through the DNS cache so a sync of many packages from one
// mirror resolves its host once.
func (m *ManagerImpl) transport() *http.Transport {
	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := m.resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			var lastErr error
			for _, ip := range ips {
				conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
				if err == nil {
					return conn, nil
				}
				lastErr = err
			}
			return nil, fmt.Errorf("dial %s: %w", addr, lastErr)
		},
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

func (m *ManagerImpl) breaker(host string) *circuit.Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[host]; ok {
		return b
	}
	cooldown := backoff.NewExponentialBackOff()
	cooldown.InitialInterval = breakerCooldown
	cooldown.MaxInterval = breakerMaxCooldown
	cooldown.Reset()
	b := circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    cooldown,
		ShouldTrip: circuit.ConsecutiveTripFunc(m.tripThreshold),
	})
	m.breakers[host] = b
	return b
}

func (m *ManagerImpl) retryPolicy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = m.baseDelay
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, m.retries), ctx)
}

// FetchAll downloads items concurrently. Items sharing a URL are fetched
// once. The first failure is returned after in-flight downloads finish; no
// new downloads start once ctx is done.
func (m *ManagerImpl) FetchAll(ctx context.Context, items []Item, opts Options) (map[string]string, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = max(2, runtime.NumCPU()/2)
	}
	if err := prepareDir(opts.Dir); err != nil {
		return nil, err
	}
	m.resolver.Refresh(true)

	byURL, err := buildURLIndex(items)
	if err != nil {
		return nil, err
	}
	results, err := m.runDownloadWorkers(ctx, items, byURL, opts)
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(items))
	for i, it := range items {
		out[it.ID] = results[i]
	}
	return out, nil
}

// Fetch downloads a single item and returns the path to the downloaded file.
func (m *ManagerImpl) Fetch(ctx context.Context, item Item, opts Options) (string, error) {
	if err := prepareDir(opts.Dir); err != nil {
		return "", err
	}
	return m.fetchOne(ctx, item, opts)
}

func prepareDir(dir string) error {
	if dir == "" || !filepath.IsAbs(dir) {
		return fmt.Errorf("download dir must be absolute: %w: %s", errors.ErrInvalidPath, dir)
	}
	if err := os.MkdirAll(dir, fsutil.DirModeSecure); err != nil {
		return errors.Wrap(err, "could not create download dir")
	}
	return nil
}

func buildURLIndex(items []Item) (map[string][]int, error) {
	byURL := make(map[string][]int)
	for i, it := range items {
		if it.URL == nil {
			return nil, fmt.Errorf("item %s has no URL: %w", it.ID, errors.ErrDownloadFailed)
		}
		key := it.URL.String()
		byURL[key] = append(byURL[key], i)
	}
	return byURL, nil
}

func (m *ManagerImpl) runDownloadWorkers(ctx context.Context, items []Item, byURL map[string][]int, opts Options) ([]string, error) {
	results := make([]string, len(items))
	var firstErr error
	var mu sync.Mutex

	tasks := make(chan string)
	var wg sync.WaitGroup
	for w := 0; w < opts.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for urlStr := range tasks {
				path, err := m.fetchOne(ctx, items[byURL[urlStr][0]], opts)
				mu.Lock()
				if err != nil {
					if firstErr == nil {
						firstErr = err
					}
				} else {
					for _, i := range byURL[urlStr] {
						results[i] = path
					}
				}
				mu.Unlock()
			}
		}()
	}

	urls := make([]string, 0, len(byURL))
	for u := range byURL {
		urls = append(urls, u)
	}
	slices.Sort(urls)

dispatch:
	for _, u := range urls {
		select {
		case tasks <- u:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(tasks)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (m *ManagerImpl) fetchOne(ctx context.Context, item Item, opts Options) (string, error) {
	if item.URL == nil {
		return "", fmt.Errorf("nil URL: %w", errors.ErrDownloadFailed)
	}
	absPath := filepath.Join(opts.Dir, selectFilename(item))
	if !strings.HasPrefix(absPath, filepath.Clean(opts.Dir)+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s escapes %s", errors.ErrInvalidPath, item.Filename, opts.Dir)
	}

	verify := item.Checksum != "" && (item.ChecksumType == "" || strings.EqualFold(item.ChecksumType, checksumSHA256))
	if reuse, ok := tryReuseExisting(absPath, item.Checksum, verify); ok {
		logger.Debug("Reusing downloaded file", logger.Fields{"id": item.ID, "path": reuse})
		return reuse, nil
	}

	tmpPath, err := m.download(ctx, item, opts, absPath)
	if err != nil {
		return "", err
	}
	if verify {
		ok, err := verifySHA256(tmpPath, item.Checksum)
		if err != nil {
			_ = os.Remove(tmpPath)
			return "", err
		}
		if !ok {
			_ = os.Remove(tmpPath)
			return "", fmt.Errorf("%w: %s", errors.ErrChecksumMismatch, item.URL)
		}
	}
	if err := fsutil.Move(tmpPath, absPath); err != nil {
		return "", errors.Wrap(err, "could not finalize file")
	}
	if err := os.Chmod(absPath, fsutil.FileModeSecure); err != nil {
		return "", errors.Wrap(err, "could not set permissions")
	}
	logger.Debug("Downloaded", logger.Fields{"id": item.ID, "url": item.URL.Redacted()})
	return absPath, nil
}

func selectFilename(item Item) string {
	if item.Filename != "" {
		return filepath.FromSlash(item.Filename)
	}
	if item.Checksum != "" {
		return item.Checksum
	}
	h := sha256.Sum256([]byte(item.URL.String()))
	return hex.EncodeToString(h[:])
}

func tryReuseExisting(absPath, checksum string, verify bool) (string, bool) {
	st, err := os.Stat(absPath)
	if err != nil || st.Size() == 0 {
		return "", false
	}
	if !verify {
		return absPath, true
	}
	if ok, err := verifySHA256(absPath, checksum); err == nil && ok {
		return absPath, true
	}
	return "", false
}

// download fetches item into a temp file next to absPath, retrying
// transient failures.
func (m *ManagerImpl) download(ctx context.Context, item Item, opts Options, absPath string) (string, error) {
	breaker := m.breaker(item.URL.Host)
	var tmpPath string
	attempt := func() error {
		if !breaker.Ready() {
			return backoff.Permanent(fmt.Errorf("%w: %w: circuit open for %s", errors.ErrDownloadFailed, errors.ErrUpstreamDown, item.URL.Host))
		}
		resp, err := m.doRequest(ctx, item, opts)
		if err == nil {
			defer func() { _ = resp.Body.Close() }()
			tmpPath, err = writeBodyToTemp(resp, absPath)
		}
		switch {
		case err == nil:
			breaker.Success()
			return nil
		case ctx.Err() != nil:
			return backoff.Permanent(err)
		case errors.Is(err, errors.ErrUpstreamDown):
			breaker.Fail()
			return err
		default:
			return backoff.Permanent(err)
		}
	}
	notify := func(err error, next time.Duration) {
		logger.Debug("Retrying download", logger.Fields{"id": item.ID, "in": next, "error": err})
	}
	if err := backoff.RetryNotify(attempt, m.retryPolicy(ctx), notify); err != nil {
		return "", err
	}
	return tmpPath, nil
}

func (m *ManagerImpl) doRequest(ctx context.Context, item Item, opts Options) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, item.URL.String(), http.NoBody)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("User-Agent", m.userAgent)
	if opts.Auth != nil {
		if err := opts.Auth.Apply(req); err != nil {
			return nil, errors.Wrap(err, "failed to apply credentials")
		}
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %s: %w", errors.ErrDownloadFailed, errors.ErrUpstreamDown, item.URL.Redacted(), err)
	}
	switch {
	case resp.StatusCode == http.StatusOK:
		return resp, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: %w: %s: status %d", errors.ErrDownloadFailed, errors.ErrUpstreamDown, item.URL.Redacted(), resp.StatusCode)
	default:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: %s: unexpected status code %d", errors.ErrDownloadFailed, item.URL.Redacted(), resp.StatusCode)
	}
}

func writeBodyToTemp(resp *http.Response, absPath string) (string, error) {
	if err := fsutil.EnsureFileDir(absPath, fsutil.DirModeSecure); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(filepath.Dir(absPath), "dl-*.tmp")
	if err != nil {
		return "", errors.Wrap(err, "could not create temp file")
	}
	tmpPath := tmp.Name()

	body := &upstreamBody{r: resp.Body}
	if _, err := io.Copy(tmp, body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		if body.err != nil {
			return "", fmt.Errorf("%w: %w: reading %s: %w", errors.ErrDownloadFailed, errors.ErrUpstreamDown, resp.Request.URL.Redacted(), body.err)
		}
		return "", errors.Wrap(err, "could not write file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", errors.Wrap(err, "could not close file")
	}
	return tmpPath, nil
}

// upstreamBody remembers read failures so a connection dropped mid-body can
// be told apart from a local write failure.
type upstreamBody struct {
	r   io.Reader
	err error
}

func (b *upstreamBody) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if err != nil && err != io.EOF {
		b.err = err
	}
	return n, err
}

func verifySHA256(path string, wantHex string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, errors.Wrap(err, "open for checksum")
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, errors.Wrap(err, "hashing")
	}
	return hex.EncodeToString(h.Sum(nil)) == strings.ToLower(strings.TrimSpace(wantHex)), nil
}
