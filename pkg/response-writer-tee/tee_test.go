package tee

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTeeWritesToClientAndBuffer(t *testing.T) {
	rr := httptest.NewRecorder()
	rw := NewResponseSaver(rr)
	rw.Header().Set("Content-Type", "text/plain")
	rw.WriteHeader(http.StatusCreated)
	rw.Write([]byte("Hello "))
	rw.Write([]byte("world"))

	if rr.Code != http.StatusCreated || rr.Body.String() != "Hello world" {
		t.Fatalf("Client got %d %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/plain" {
		t.Fatalf("Client Content-Type is %s", ct)
	}
	if rw.StatusCode() != http.StatusCreated {
		t.Fatalf("Saved status is %d", rw.StatusCode())
	}

	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(rw.Response())), nil)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(res.Body)
	if res.StatusCode != http.StatusCreated || string(body) != "Hello world" {
		t.Fatalf("Saved response is %d %s", res.StatusCode, body)
	}
	if ct := res.Header.Get("Content-Type"); ct != "text/plain" {
		t.Fatalf("Saved Content-Type is %s", ct)
	}
}

func TestTeeImplicitStatus(t *testing.T) {
	rw := NewResponseSaver(nil)
	rw.Write([]byte("body"))
	if rw.StatusCode() != http.StatusOK {
		t.Fatalf("Status is %d", rw.StatusCode())
	}
	if rw.CreatedAt.IsZero() {
		t.Fatal("CreatedAt not set")
	}
}

func TestTeeHeadersNotSharedWithClient(t *testing.T) {
	rr := httptest.NewRecorder()
	rr.Header().Set("Cache-Status", "client-only")
	rw := NewResponseSaver(rr)
	rw.Header().Set("X-Origin", "yes")
	rw.WriteHeader(http.StatusOK)

	if bytes.Contains(rw.Response(), []byte("client-only")) {
		t.Fatalf("Client header saved: %s", rw.Response())
	}
	if rr.Header().Get("X-Origin") != "yes" {
		t.Fatal("Origin header not sent to client")
	}
}

func TestTeeOmitsHeadersFromSavedResponse(t *testing.T) {
	rr := httptest.NewRecorder()
	rw := NewResponseSaver(rr, "set-cookie")
	rw.Header().Set("Set-Cookie", "session=secret")
	rw.Write([]byte("body"))

	if rr.Header().Get("Set-Cookie") != "session=secret" {
		t.Fatal("Omitted header not sent to client")
	}
	if bytes.Contains(rw.Response(), []byte("secret")) {
		t.Fatalf("Omitted header saved: %s", rw.Response())
	}
}
