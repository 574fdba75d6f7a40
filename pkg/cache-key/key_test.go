package cachekey

import (
	"net/http"
	"strings"
	"testing"
)

func TestRequestFromKey(t *testing.T) {
	keygen := NewCacheKeyer("this-is-the-origin")
	r, _ := http.NewRequest("GET", "http://dev.localhost/page?q=1#top", nil)
	key := keygen.GetKeyPrefix(r)
	req, err := keygen.GetRequestFromKey(key)
	if err != nil {
		t.Fatalf("%s: %s", key, err)
	}
	if url := req.URL.String(); url != "/page?q=1" {
		t.Fatalf("Created request url for key %s is %s", key, url)
	}
}

func TestRequestFromKeyWithOriginContainingColons(t *testing.T) {
	keygen := NewCacheKeyer("http://localhost:8080")
	r, _ := http.NewRequest("GET", "/index.html", nil)
	req, err := keygen.GetRequestFromKey(keygen.GetKeyPrefix(r))
	if err != nil {
		t.Fatal(err)
	}
	if req.Method != "GET" || req.URL.Path != "/index.html" {
		t.Fatalf("Request is %s %s", req.Method, req.URL)
	}
}

func TestRequestFromKeyRejectsOtherMethods(t *testing.T) {
	keygen := NewCacheKeyer("origin")
	r, _ := http.NewRequest("POST", "/form", nil)
	if _, err := keygen.GetRequestFromKey(keygen.GetKeyPrefix(r)); err != ErrorMethodNotSupported {
		t.Fatalf("Error is %v", err)
	}
	if _, err := keygen.GetRequestFromKey("other-origin:GET:/\t"); err == nil {
		t.Fatal("Expected error for foreign key")
	}
}

func TestOriginPrefixIncludesOrigin(t *testing.T) {
	origin := "this-is-the-origin"
	keygen := NewCacheKeyer(origin)
	if !strings.Contains(keygen.OriginPrefix, origin) {
		t.Fatalf("OriginPrefix is %s", keygen.OriginPrefix)
	}
	if prefix := keygen.MethodPrefix("GET"); prefix != "this-is-the-origin:GET:" {
		t.Fatalf("MethodPrefix is %s", prefix)
	}
}

func TestVaryKeys(t *testing.T) {
	keygen := NewCacheKeyer("origin")
	req, _ := http.NewRequest("GET", "/data.json", nil)
	req.Header.Set("Accept-Language", "fi")
	res := &http.Response{Header: http.Header{}}
	res.Header.Add("Vary", "Accept-Language, X-Theme")

	key, err := keygen.AddVaryKeys(keygen.GetKeyPrefix(req), req, res)
	if err != nil {
		t.Fatal(err)
	}
	if !keygen.Matches(key, req) {
		t.Fatalf("Key %q does not match its own request", key)
	}

	other, _ := http.NewRequest("GET", "/data.json", nil)
	other.Header.Set("Accept-Language", "en")
	if keygen.Matches(key, other) {
		t.Fatal("Key matches request with different vary header")
	}

	themed := req.Clone(req.Context())
	themed.Header.Set("X-Theme", "dark")
	if keygen.Matches(key, themed) {
		t.Fatal("Key matches request with vary header absent at store time")
	}

	restored, err := keygen.GetRequestFromKey(key)
	if err != nil {
		t.Fatal(err)
	}
	if lang := restored.Header.Get("Accept-Language"); lang != "fi" {
		t.Fatalf("Restored Accept-Language is %q", lang)
	}
}

func TestVaryWildcard(t *testing.T) {
	keygen := NewCacheKeyer("origin")
	req, _ := http.NewRequest("GET", "/", nil)
	res := &http.Response{Header: http.Header{"Vary": []string{"*"}}}
	if _, err := keygen.AddVaryKeys(keygen.GetKeyPrefix(req), req, res); err != ErrVaryWildcard {
		t.Fatalf("Error is %v", err)
	}
}

func TestMatchesOtherUri(t *testing.T) {
	keygen := NewCacheKeyer("origin")
	page, _ := http.NewRequest("GET", "/page", nil)
	pages, _ := http.NewRequest("GET", "/pages", nil)
	if keygen.Matches(keygen.GetKeyPrefix(pages), page) {
		t.Fatal("/pages matched /page")
	}
}
