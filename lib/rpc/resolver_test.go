package rpc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tarancss/chainkit/lib/config"
	"github.com/tarancss/chainkit/lib/store/memory"
)

// fakeChecker reports healthy the sets whose counterpartyd address contains one of the healthy hosts.
type fakeChecker struct {
	mu      sync.Mutex
	healthy []string
	calls   int
}

func (f *fakeChecker) Check(_ context.Context, set config.ServiceSet) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	for _, h := range f.healthy {
		if strings.Contains(set["counterpartyd"].Address, h) {
			return true
		}
	}
	return false
}

func candidates() []config.ServiceSet {
	return []config.ServiceSet{
		{"counterpartyd": {Address: "node1:4000"}, "bitcoind": {Address: "http://btc1:8332"}},
		{"counterpartyd": {Address: "node2:4000"}, "bitcoind": {Address: "http://btc2:8332"}},
		{"counterpartyd": {Address: "node3:4000", Driver: "jsonmeta"}, "bitcoind": {Address: "http://btc3:8332"}},
	}
}

func TestResolveThirdCandidate(t *testing.T) {
	cache := memory.New()
	checker := &fakeChecker{healthy: []string{"node3"}}
	r := NewResolver(cache, checker, 0, 2, nil)

	set, err := r.Resolve(context.Background(), candidates(), true, "rpc-service-mainnet")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if set["counterpartyd"].Address != "https://node3:4000" || set["counterpartyd"].Driver != "jsonmeta" ||
		set["bitcoind"].Driver != "json" || set["bitcoind"].Name != "bitcoind" {
		t.Errorf("unexpected set %+v", set)
	}
	if checker.calls != 3 {
		t.Errorf("expected 3 checks, got %d", checker.calls)
	}
	if ok, _ := cache.Exists("rpc-service-mainnet"); !ok {
		t.Errorf("resolved set not cached")
	}

	// cached set returned without checks
	checker.healthy = nil
	again, err := r.Resolve(context.Background(), candidates(), false, "rpc-service-mainnet")
	if err != nil || again["counterpartyd"].Address != "https://node3:4000" {
		t.Errorf("cached set not returned: %v %v", again, err)
	}
	if checker.calls != 3 {
		t.Errorf("cached set was checked: %d calls", checker.calls)
	}
	if r.Current()["counterpartyd"].Address != "https://node3:4000" {
		t.Errorf("current set not remembered")
	}
}

func TestResolveFirstInListWins(t *testing.T) {
	checker := &fakeChecker{healthy: []string{"node2", "node3"}}
	r := NewResolver(memory.New(), checker, 0, 0, nil)

	for i := 0; i < 20; i++ {
		set, err := r.Resolve(context.Background(), candidates(), true, "k"+string(rune('a'+i)))
		if err != nil || set["counterpartyd"].Address != "https://node2:4000" {
			t.Fatalf("run %d: unexpected set %v %v", i, set, err)
		}
	}
}

func TestResolveCachedFailsCheck(t *testing.T) {
	cache := memory.New()
	checker := &fakeChecker{healthy: []string{"node1"}}
	r := NewResolver(cache, checker, 0, 0, nil)

	if _, err := r.Resolve(context.Background(), candidates(), true, "key"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	checker.healthy = []string{"node2"}
	set, err := r.Resolve(context.Background(), candidates(), true, "key")
	if err != nil || set["counterpartyd"].Address != "https://node2:4000" {
		t.Errorf("unexpected set %v %v", set, err)
	}

	checker.healthy = nil
	if _, err = r.Resolve(context.Background(), candidates(), true, "key"); !errors.Is(err, ErrConfigurationMissing) {
		t.Errorf("expected ErrConfigurationMissing, got %v", err)
	}
	if ok, _ := cache.Exists("key"); ok {
		t.Errorf("failed set still cached")
	}
}

func TestResolveWithoutVerify(t *testing.T) {
	checker := &fakeChecker{}
	cache := memory.New()
	r := NewResolver(cache, checker, 0, 0, nil)

	set, err := r.Resolve(context.Background(), candidates(), false, "key")
	if err != nil || set["counterpartyd"].Address != "https://node1:4000" || checker.calls != 0 {
		t.Errorf("unexpected set %v %v (%d checks)", set, err, checker.calls)
	}
	if ok, _ := cache.Exists("key"); ok {
		t.Errorf("unverified set was cached")
	}

	if _, err = r.Resolve(context.Background(), nil, false, "key"); !errors.Is(err, ErrConfigurationMissing) {
		t.Errorf("expected ErrConfigurationMissing, got %v", err)
	}
}

func TestResolveTTL(t *testing.T) {
	now := time.Unix(10000, 0)
	clock := func() time.Time { return now }
	cache := memory.NewWithClock(clock)
	checker := &fakeChecker{healthy: []string{"node1"}}
	r := NewResolver(cache, checker, time.Minute, 0, nil)
	r.now = clock

	if _, err := r.Resolve(context.Background(), candidates(), true, "key"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	now = now.Add(2 * time.Minute)
	checker.healthy = []string{"node2"}
	set, err := r.Resolve(context.Background(), candidates(), false, "key")
	if err != nil || set["counterpartyd"].Address != "https://node1:4000" {
		t.Errorf("expired set should give the first candidate: %v %v", set, err)
	}
	if ok, _ := cache.Exists("key"); ok {
		t.Errorf("expired set still cached")
	}
}

func TestHTTPChecker(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"counterparty-server":"OK","counterblock":"OK"}`))
	}))
	defer ok.Close()

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"counterparty-server":"NOT OK"}`))
	}))
	defer down.Close()

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer broken.Close()

	h := NewHTTPChecker(config.RPCDefault, nil)

	cases := []struct {
		set  config.ServiceSet
		want bool
	}{
		{config.ServiceSet{"counterblockd": {Address: ok.URL}}, true},
		{config.ServiceSet{"counterblockd": {Address: down.URL}}, false},
		{config.ServiceSet{"counterblockd": {Address: broken.URL}}, false},
		{config.ServiceSet{"counterblockd": {Address: "http://127.0.0.1:1"}}, false},
		{config.ServiceSet{"counterpartyd": {Address: down.URL}}, true}, // cannot be verified
	}
	for i, c := range cases {
		if got := h.Check(context.Background(), c.set); got != c.want {
			t.Errorf("case %d: got %v", i, got)
		}
	}

	if !(AlwaysHealthy{}).Check(context.Background(), nil) {
		t.Errorf("AlwaysHealthy refused a set")
	}
}
