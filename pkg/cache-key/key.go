package cachekey

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrorMethodNotSupported = fmt.Errorf("Method not supported")
	// ErrVaryWildcard is returned for responses with `Vary: *`, which can never be matched.
	ErrVaryWildcard = errors.New("response varies on '*'")
)

const (
	originSeparator = ":"
	methodSeparator = ":"
	varySeparator   = "\t"
	varyLineStart   = "\n"
	varyValueStart  = ": "
)

type CacheKeyer struct {
	// Unique identifier for the origin.
	// Usually this should be the origin - well - origin.
	OriginId string
	// Cache key prefix for this origin
	OriginPrefix string
}

func NewCacheKeyer(originId string) CacheKeyer {
	return CacheKeyer{
		OriginId:     originId,
		OriginPrefix: originId + originSeparator,
	}
}

// MethodPrefix gets the key prefix for the origin with the given method.
// E.g. prefix for all GET requests in the cache.
func (c CacheKeyer) MethodPrefix(method string) string {
	return c.OriginPrefix + method + methodSeparator
}

// GetKeyPrefix returns the cache key for a request without the vary headers (i.e. a key prefix).
// The returned key is suitable for finding all stored response variants for a particular request.
// The fragment is not part of the request URI, so it is ignored.
func (c CacheKeyer) GetKeyPrefix(r *http.Request) string {
	return c.MethodPrefix(r.Method) + r.URL.RequestURI() + varySeparator
}

// AddVaryKeys returns the full cache key (including vary headers) based on a previously generated
// cache key prefix and the request and response involved.
// Every header named in the response `Vary` field is recorded, with an empty value if the
// request did not carry it, so that a later request lacking the header still matches.
func (c CacheKeyer) AddVaryKeys(prefix string, req *http.Request, res *http.Response) (string, error) {
	key := prefix
	for _, name := range varyNames(res.Header) {
		if name == "*" {
			return "", ErrVaryWildcard
		}
		key = key + varyLineStart + strings.ToLower(name) + varyValueStart + req.Header.Get(name)
	}
	return key, nil
}

// Matches checks if the stored key can be used for the given request,
// i.e. the request matches the key prefix and all recorded vary headers.
func (c CacheKeyer) Matches(key string, r *http.Request) bool {
	if !strings.HasPrefix(key, c.GetKeyPrefix(r)) {
		return false
	}
	for name, values := range c.GetVaryHeaders(key) {
		if r.Header.Get(name) != values[0] {
			return false
		}
	}
	return true
}

// GetRequestFromKey generates a caching-wise equal request than the request that resulted in the
// provided key. This means it takes vary headers into account.
// It returns an error if the request cannot for some reason be deducted.
func (c CacheKeyer) GetRequestFromKey(key string) (*http.Request, error) {
	if !strings.HasPrefix(key, c.OriginPrefix) {
		return nil, fmt.Errorf("Key and origin do not match")
	}
	keyNoOrigin := strings.TrimPrefix(key, c.OriginPrefix)
	keyNoVary, _, found := strings.Cut(keyNoOrigin, varySeparator)
	if !found {
		return nil, fmt.Errorf("Malformed key: %s", key)
	}
	method, uri, found := strings.Cut(keyNoVary, methodSeparator)
	if !found {
		return nil, fmt.Errorf("Malformed key: %s", key)
	}
	if method != http.MethodGet {
		return nil, ErrorMethodNotSupported
	}
	req, err := http.NewRequest(method, uri, nil)
	if err != nil {
		return req, err
	}
	req.Header = c.GetVaryHeaders(key)
	return req, nil
}

// GetVaryHeaders creates a http.Header instance containing all the vary keys included in a key.
func (c CacheKeyer) GetVaryHeaders(key string) http.Header {
	header := make(http.Header)
	lines := strings.Split(key, varyLineStart)
	for i := 1; i < len(lines); i++ {
		name, value, _ := strings.Cut(lines[i], varyValueStart)
		header.Add(name, value)
	}
	return header
}

func varyNames(header http.Header) []string {
	names := make([]string, 0)
	for _, value := range header.Values("Vary") {
		for _, name := range strings.Split(value, ",") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
	}
	return names
}
