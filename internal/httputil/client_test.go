package httputil

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func TestNewCookieJar_IsolatedPerSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "abc", Path: "/"})
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewClient(time.Second, NewCookieJar())
	b := NewClient(time.Second, NewCookieJar())

	resp, err := a.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()

	u, _ := url.Parse(srv.URL)
	if got := len(a.Jar.Cookies(u)); got != 1 {
		t.Fatalf("expected 1 cookie in first jar, got %d", got)
	}
	if got := len(b.Jar.Cookies(u)); got != 0 {
		t.Fatalf("second jar should be empty, got %d cookies", got)
	}
}

func TestNewClient_DefaultTimeout(t *testing.T) {
	c := NewClient(0, nil)
	if c.Timeout != 10*time.Second {
		t.Fatalf("expected 10s default timeout, got %s", c.Timeout)
	}
}
