package enrich

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestClient(t *testing.T, srv *httptest.Server, withCache bool) *Client {
	t.Helper()

	var rdb *redis.Client
	if withCache {
		mr, err := miniredis.Run()
		if err != nil {
			t.Fatalf("failed to start miniredis: %v", err)
		}
		t.Cleanup(mr.Close)
		rdb = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { rdb.Close() })
	}

	c := NewClient(srv.URL, "test-key", 0, rdb)
	c.SetHTTPClient(srv.Client())
	return c
}

func TestVerifyCachesResult(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		if r.Header.Get("X-Api-Key") != "test-key" {
			t.Errorf("missing api key header")
		}
		if got := r.URL.Query().Get("email"); got != "jane@acme.com" {
			t.Errorf("email param = %q", got)
		}
		w.Write([]byte(`{"email":"jane@acme.com","status":"valid","score":0.97}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, true)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		v, err := c.Verify(ctx, "jane@acme.com")
		if err != nil {
			t.Fatalf("Verify: %v", err)
		}
		if v.Status != "valid" || !v.Deliverable() {
			t.Errorf("verification = %+v", v)
		}
	}

	if n := atomic.LoadInt64(&hits); n != 1 {
		t.Errorf("API called %d times, want 1 (cached)", n)
	}
}

func TestVerifyWithoutCache(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.Write([]byte(`{"email":"x@y.com","status":"invalid","score":0.02}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, false)
	ctx := context.Background()

	c.Verify(ctx, "x@y.com")
	v, err := c.Verify(ctx, "x@y.com")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if v.Deliverable() {
		t.Error("invalid address reported deliverable")
	}
	if n := atomic.LoadInt64(&hits); n != 2 {
		t.Errorf("API called %d times, want 2 without cache", n)
	}
}

func TestEnrichCompany(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("domain"); got != "acme.com" {
			t.Errorf("domain param = %q", got)
		}
		w.Write([]byte(`{"domain":"acme.com","company_name":"Acme Corp","industry":"SaaS","employee_count":120,"annual_revenue_usd":25000000}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, true)

	f, err := c.EnrichCompany(context.Background(), "acme.com")
	if err != nil {
		t.Fatalf("EnrichCompany: %v", err)
	}
	if f.CompanyName != "Acme Corp" || f.EmployeeCount != 120 {
		t.Errorf("firmographics = %+v", f)
	}
}

func TestEnrichCompanyNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, false)

	_, err := c.EnrichCompany(context.Background(), "nobody.example")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEnabled(t *testing.T) {
	if (NewClient("", "", 0, nil)).Enabled() {
		t.Error("client without credentials should be disabled")
	}
	if !(NewClient("https://api.a-leads.example", "k", 0, nil)).Enabled() {
		t.Error("configured client should be enabled")
	}
}
