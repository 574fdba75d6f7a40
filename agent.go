package eduquest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/Mehalmpradeep/EduQuest/cache"
	cachekey "github.com/Mehalmpradeep/EduQuest/pkg/cache-key"
	serializer "github.com/Mehalmpradeep/EduQuest/pkg/response-serializer"
	tee "github.com/Mehalmpradeep/EduQuest/pkg/response-writer-tee"
	"github.com/Mehalmpradeep/EduQuest/rfc9211"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrBadStatus is returned when a manifest asset is fetched with a non-2xx status.
	ErrBadStatus = errors.New("response status not ok")
	// ErrPartialResponse is returned when trying to store a 206 response.
	ErrPartialResponse = errors.New("partial response cannot be stored")
	// ErrIncompleteResponse is returned when trying to store a response without a full
	// representation, e.g. 304 Not Modified.
	ErrIncompleteResponse = errors.New("response without full content cannot be stored")
	// ErrVaryWildcard is returned when trying to store a response with `Vary: *`.
	ErrVaryWildcard = cachekey.ErrVaryWildcard
	// ErrCacheNotFound is returned when a named cache does not exist.
	ErrCacheNotFound = errors.New("cache not found")
)

// Headers never written to the cache. The client still gets them.
var unstoredHeaders = []string{"Set-Cookie", "Set-Cookie2"}

// Request headers that make the origin answer with less than the full response.
// They are dropped from fetches whose response is to be stored.
var conditionalHeaders = []string{"If-None-Match", "If-Modified-Since", "If-Match", "If-Unmodified-Since", "If-Range"}

// unconditional returns a copy of the request without conditional headers.
func unconditional(r *http.Request) *http.Request {
	req := r.Clone(r.Context())
	for _, name := range conditionalHeaders {
		req.Header.Del(name)
	}
	return req
}

type AgentConfig struct {
	// Version of the agent. The cache name is derived from it,
	// so bumping the version is all it takes to roll out a new cache.
	Version string
	// Prefix of the cache name: the name is `<CachePrefix>-<Version>`.
	CachePrefix string
	// URLs stored in the cache on install.
	Manifest []string
	// Cache store shared by all agent versions.
	Storage *cache.Storage
	// Network used on cache misses.
	Network *Network
	// Do not ask for activation right after install, i.e. wait until
	// explicitly promoted.
	DisableSkipWaiting bool
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

// Agent is the cache interception agent.
// It pre-caches the manifest on install, serves GET requests cache-first, and
// sweeps caches of other versions on activation.
type Agent struct {
	version         string
	cacheName       string
	manifest        []string
	storage         *cache.Storage
	network         *Network
	keyer           cachekey.CacheKeyer
	log             zerolog.Logger
	waitForPromote  bool
	clients         *Clients
	mutex           sync.RWMutex
	state           State
	skipWaitingFlag bool
}

// CreateAgent creates an agent for the given version.
// The agent does nothing before it is installed and activated.
func CreateAgent(config AgentConfig) *Agent {
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	cacheName := CacheName(config.CachePrefix, config.Version)
	return &Agent{
		version:        config.Version,
		cacheName:      cacheName,
		manifest:       slices.Clone(config.Manifest),
		storage:        config.Storage,
		network:        config.Network,
		keyer:          cachekey.NewCacheKeyer(config.Network.Origin()),
		waitForPromote: config.DisableSkipWaiting,
		log: logger.With().
			Str("version", config.Version).
			Str("cache", cacheName).
			Logger(),
	}
}

// CacheName returns the versioned cache name.
func CacheName(prefix, version string) string {
	if prefix == "" {
		return version
	}
	return prefix + "-" + version
}

func (a *Agent) Version() string {
	return a.version
}

// CacheName returns the name of the cache used by this agent.
func (a *Agent) CacheName() string {
	return a.cacheName
}

func (a *Agent) State() State {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.state
}

func (a *Agent) setState(state State) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if a.state != state {
		a.log.Info().Str("from", a.state.String()).Str("to", state.String()).Msg("Agent state change")
	}
	a.state = state
}

// SkipWaiting asks to be activated as soon as installed,
// superseding the current agent without waiting for a handoff.
func (a *Agent) SkipWaiting() {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.skipWaitingFlag = true
}

func (a *Agent) skippingWaiting() bool {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.skipWaitingFlag
}

// Install opens the versioned cache and stores every manifest URL in it.
// It returns when all of them are stored. If any of them cannot be fetched or
// stored, nothing is stored, an error is returned and the agent is redundant.
func (a *Agent) Install(ctx context.Context) error {
	a.setState(StateInstalling)
	if !a.waitForPromote {
		a.SkipWaiting()
	}
	c, err := a.storage.Open(a.cacheName)
	if err == nil {
		a.log.Info().Strs("manifest", a.manifest).Msg("Caching files")
		err = a.addAll(ctx, c, a.manifest)
	}
	if err != nil {
		a.setState(StateRedundant)
		return fmt.Errorf("install %s: %w", a.cacheName, err)
	}
	a.setState(StateInstalled)
	return nil
}

// addAll fetches all urls concurrently and stores the responses in one go.
// The first failure cancels the remaining fetches.
func (a *Agent) addAll(ctx context.Context, c *cache.Cache, urls []string) error {
	entries := make([]cache.CacheEntry, len(urls))
	g, ctx := errgroup.WithContext(ctx)
	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
			if err != nil {
				return fmt.Errorf("%s: %w", u, err)
			}
			entry, err := a.fetchEntry(unconditional(req))
			if err != nil {
				return fmt.Errorf("%s: %w", u, err)
			}
			entries[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return c.Put(entries...)
}

func (a *Agent) fetchEntry(req *http.Request) (cache.CacheEntry, error) {
	timed, err := a.network.Fetch(req)
	if err != nil {
		return cache.CacheEntry{}, err
	}
	res := timed.Response
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return cache.CacheEntry{}, fmt.Errorf("%w: %d", ErrBadStatus, res.StatusCode)
	}
	key, err := a.storageKey(req, res)
	if err != nil {
		return cache.CacheEntry{}, err
	}
	for _, name := range unstoredHeaders {
		res.Header.Del(name)
	}
	bts, err := serializer.Clone(res)
	if err != nil {
		return cache.CacheEntry{}, err
	}
	a.log.Trace().Str("key", key).Msg("Fetched for install")
	return cache.CacheEntry{
		Key:         key,
		RequestedAt: timed.RequestTime,
		ReceivedAt:  timed.ResponseTime,
		Bytes:       bts,
	}, nil
}

// storageKey returns the key to store the response under,
// or an error if the response cannot be stored.
func (a *Agent) storageKey(req *http.Request, res *http.Response) (string, error) {
	switch {
	case res.StatusCode == http.StatusPartialContent:
		return "", ErrPartialResponse
	case res.StatusCode == http.StatusNotModified, res.StatusCode < 200:
		return "", fmt.Errorf("%w: %d", ErrIncompleteResponse, res.StatusCode)
	}
	return a.keyer.AddVaryKeys(a.keyer.GetKeyPrefix(req), req, res)
}

// Activate deletes every cache other than this agent's own, then claims all clients.
// Deletions run concurrently and are all attempted even if one of them fails;
// the first failure is returned and clients are then not claimed.
// The agent is activated regardless.
func (a *Agent) Activate(ctx context.Context) error {
	a.setState(StateActivating)
	defer a.setState(StateActivated)

	names, err := a.storage.Names()
	if err != nil {
		return fmt.Errorf("list caches: %w", err)
	}
	whitelist := []string{a.cacheName}
	var g errgroup.Group
	for _, name := range names {
		if slices.Contains(whitelist, name) {
			continue
		}
		name := name
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			a.log.Info().Str("stale", name).Msg("Deleting cache")
			if _, err := a.storage.Delete(name); err != nil {
				return fmt.Errorf("delete cache %s: %w", name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	a.claim()
	return nil
}

// put writes the entry to the agent's cache, unless the agent is redundant.
// The state lock is held for the write: an agent is made redundant before the caches
// of newer agents are purged, so a write in flight is always purged with its cache.
func (a *Agent) put(ce cache.CacheEntry) (bool, error) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	if a.state == StateRedundant {
		return false, nil
	}
	c, err := a.storage.Open(a.cacheName)
	if err != nil {
		return false, err
	}
	return true, c.Put(ce)
}

// claim makes this agent the controller of all known clients.
func (a *Agent) claim() {
	if a.clients == nil {
		return
	}
	claimed := a.clients.Claim(a)
	a.log.Debug().Int("clients", claimed).Msg("Claimed clients")
}

// Keys returns the URLs stored in the named cache.
func (a *Agent) Keys(cacheName string) ([]string, error) {
	if has, err := a.storage.Has(cacheName); err != nil {
		return nil, err
	} else if !has {
		return nil, ErrCacheNotFound
	}
	c, err := a.storage.Open(cacheName)
	if err != nil {
		return nil, err
	}
	keys, err := c.Keys()
	if err != nil {
		return nil, err
	}
	urls := make([]string, 0, len(keys))
	for _, key := range keys {
		req, err := a.keyer.GetRequestFromKey(key)
		if err != nil {
			a.log.Warn().Err(err).Str("key", key).Msg("Could not get request from key")
			continue
		}
		urls = append(urls, req.URL.String())
	}
	return urls, nil
}

// ServeHTTP implements the http.Handler interface. It is the fetch interception.
func (a *Agent) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer a.recover(w, r)
	a.handle(w, r)
}

// recover recovers from panics and sends the request to the network as an escape hatch.
func (a *Agent) recover(w http.ResponseWriter, r *http.Request) {
	if err := recover(); err != nil {
		a.log.WithLevel(zerolog.PanicLevel).Interface("error", err).Msg("Panic in fetch handler")
		a.network.Pass(w, r)
	}
}

// handle answers GET requests cache-first. Any other request is passed on untouched.
func (a *Agent) handle(w http.ResponseWriter, r *http.Request) {
	logger := a.getLogger(r)

	if r.Method != http.MethodGet {
		logger.Trace().Str("method", r.Method).Str("url", r.URL.String()).Msg("Not intercepting")
		a.network.Pass(w, r)
		return
	}

	var cacheStatus rfc9211.CacheStatus
	res, fwdReason := a.match(r, logger)
	if res == nil {
		cacheStatus.Forward(fwdReason)
		a.fetchAndStore(w, r, cacheStatus, logger)
		return
	}

	cacheStatus.Hit()
	w.Header().Add("Cache-Status", cacheStatus.String())
	if err := send(w, res); err != nil {
		logger.Error().Err(err).Msg("Could not write response body to client")
	}
	a.logRequest(logger, r, cacheStatus)
}

// match looks the request up in all caches, oldest cache first.
// If there is no usable response, it returns the reason.
func (a *Agent) match(r *http.Request, logger *zerolog.Logger) (*http.Response, rfc9211.FwdReason) {
	prefix := a.keyer.GetKeyPrefix(r)
	logger.Trace().Str("key", prefix).Msg("Getting cached entries")
	entries, err := a.storage.Match(prefix)
	if err != nil {
		logger.Error().Err(err).Str("key", prefix).Msg("Could not retrieve from cache")
		return nil, rfc9211.FwdReasonMiss
	}
	if len(entries) == 0 {
		return nil, rfc9211.FwdReasonUriMiss
	}
	for _, ce := range entries {
		if !a.keyer.Matches(ce.Key, r) {
			continue
		}
		stored, err := serializer.BytesToStoredResponse(ce.Bytes, r, ce.RequestedAt, ce.ReceivedAt)
		if err != nil {
			// a corrupted entry is just not used
			logger.Error().Err(err).Str("key", ce.Key).Str("from", ce.Cache).Msg("Could not read from cache")
			continue
		}
		logger.Trace().
			Str("key", ce.Key).
			Str("from", ce.Cache).
			Dur("age", time.Since(stored.ResponseTime)).
			Msg("Cache hit")
		return stored.Response, ""
	}
	return nil, rfc9211.FwdReasonVaryMiss
}

// fetchAndStore gets the response from the network and sends it to the client, while
// the tee keeps a clone of it. The clone is written to this agent's cache afterwards.
// The origin is asked for the full response: what is stored is served to every client.
func (a *Agent) fetchAndStore(w http.ResponseWriter, r *http.Request, cacheStatus rfc9211.CacheStatus, logger *zerolog.Logger) {
	r = unconditional(r)
	timed, err := a.network.Fetch(r)
	if err != nil {
		logger.Error().Err(err).Str("url", r.URL.String()).Msg("Could not fetch response from network")
		http.Error(w, "Error contacting origin", http.StatusBadGateway)
		return
	}
	res := timed.Response

	key, keyErr := a.storageKey(r, res)
	if keyErr != nil {
		logger.Trace().Err(keyErr).Msg("Response will not be stored")
	}
	cacheStatus.Stored = keyErr == nil
	// set cache-status on underlying rw only (i.e. do not save to cache)
	w.Header().Add("Cache-Status", cacheStatus.String())

	rw := tee.NewResponseSaver(w, unstoredHeaders...)
	rw.CreatedAt = timed.RequestTime
	err = send(rw, res)
	a.logRequest(logger, r, cacheStatus)
	if err != nil {
		logger.Error().Err(err).Msg("Could not read response from network")
		return
	}
	if keyErr != nil {
		return
	}

	ce := cache.CacheEntry{
		Key:         key,
		RequestedAt: rw.CreatedAt,
		ReceivedAt:  timed.ResponseTime,
		Bytes:       rw.Response(),
	}
	stored, err := a.put(ce)
	if err != nil {
		logger.Error().Err(err).Str("key", key).Msg("Could not write to cache")
		return
	}
	if !stored {
		logger.Debug().Str("key", key).Msg("Agent is redundant, not writing to cache")
		return
	}
	logger.Trace().Str("key", key).Msg("Cache write")
}

func (a *Agent) logRequest(logger *zerolog.Logger, r *http.Request, cs rfc9211.CacheStatus) {
	isHit := 0
	if cs.Status == rfc9211.StatusHit {
		isHit = 1
	}
	logger.Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("sourceIp", getRequestSourceIp(r)).
		Str("status", string(cs.Status)).
		Str("fwd", string(cs.FwdReason)).
		Bool("stored", cs.Stored).
		Int("hit", isHit).
		Msg("Sending response to client")
}

// getLogger returns the logger from the request context, with the agent fields added.
// If no logger is found, it will return the agent logger.
func (a *Agent) getLogger(r *http.Request) *zerolog.Logger {
	logger := hlog.FromRequest(r)
	if logger.GetLevel() == zerolog.Disabled {
		return &a.log
	}
	l := logger.With().
		Str("version", a.version).
		Str("cache", a.cacheName).
		Logger()
	return &l
}
