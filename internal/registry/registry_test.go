package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/gridmon/internal/domain/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSource — источник с заранее заданным ответом.
type fakeSource struct {
	id       string
	listing  *Listing
	err      error
	requests atomic.Int32
}

func (f *fakeSource) ID() string { return f.id }

func (f *fakeSource) List(_ context.Context) (*Listing, error) {
	f.requests.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.listing, nil
}

// fakeProber считает достижимыми все адреса, кроме перечисленных.
type fakeProber struct {
	down map[string]bool
}

func (p fakeProber) Reachable(_ context.Context, address string) bool {
	return !p.down[address]
}

func newTestResolver(depth int, prober Prober) *Resolver {
	return NewResolver(ResolverOptions{MaxDepth: depth, RegistryTimeout: time.Second, ProbeConcurrency: 4}, prober, testLogger())
}

func TestParseEndpoint(t *testing.T) {
	ep, err := ParseEndpoint("CE.Example.se")
	require.NoError(t, err)
	assert.Equal(t, "ce.example.se", ep.Host)
	assert.Equal(t, model.DefaultLDAPPort, ep.Port)
	assert.Empty(t, ep.Base)
	assert.Empty(t, ep.Schema)

	ep, err = ParseEndpoint("ce.example.no:2136/o=glue")
	require.NoError(t, err)
	assert.Equal(t, 2136, ep.Port)
	assert.Equal(t, "o=glue", ep.Base)
	assert.Equal(t, model.SchemaGLUE2, ep.Schema)

	ep, err = ParseEndpoint("ldap://ce.example.fi:2135/Mds-Vo-name=local,o=grid")
	require.NoError(t, err)
	assert.Equal(t, model.SchemaNG, ep.Schema)

	for _, bad := range []string{"", "https://ce.example.se", "ce.example.se:notaport", "ldap://:2135", "o=grid"} {
		_, err := ParseEndpoint(bad)
		assert.Error(t, err, bad)
	}
}

func TestDedup_SameHostFromTwoSources(t *testing.T) {
	candidates := []model.Endpoint{
		{Host: "sitea", Port: 2135, Base: model.BaseDNNG, Schema: model.SchemaNG, Source: "giis"},
		{Host: "siteb", Port: 2135, Base: model.BaseDNNG, Schema: model.SchemaNG, Source: "giis"},
		{Host: "sitea", Port: 2135, Base: model.BaseDNGLUE2, Schema: model.SchemaGLUE2, Source: "emir"},
	}

	t.Run("без запрошенной схемы побеждает первое вхождение", func(t *testing.T) {
		out := Dedup(candidates, "")
		require.Len(t, out, 2)
		assert.Equal(t, "sitea", out[0].Host)
		assert.Equal(t, model.BaseDNNG, out[0].Base)
		assert.Equal(t, "giis", out[0].Source)
	})

	t.Run("запрошенная схема перезаписывает базовый DN", func(t *testing.T) {
		out := Dedup(candidates, model.SchemaGLUE2)
		require.Len(t, out, 2)
		assert.Equal(t, "sitea", out[0].Host)
		assert.Equal(t, model.BaseDNGLUE2, out[0].Base)
		assert.Equal(t, model.SchemaGLUE2, out[0].Schema)
	})

	t.Run("неизвестная схема получает NG", func(t *testing.T) {
		out := Dedup([]model.Endpoint{{Host: "sitec", Port: 2135}}, "")
		require.Len(t, out, 1)
		assert.Equal(t, model.SchemaNG, out[0].Schema)
		assert.Equal(t, model.BaseDNNG, out[0].Base)
	})
}

func TestResolve_Empty(t *testing.T) {
	res := newTestResolver(3, fakeProber{}).Resolve(context.Background(), nil, model.SchemaNG)
	require.NotNil(t, res)
	assert.Empty(t, res.Endpoints)
	assert.Zero(t, res.Candidates)
}

func TestResolve_DropsUnreachableSilently(t *testing.T) {
	src := &fakeSource{id: "s", listing: &Listing{Candidates: []model.Endpoint{
		{Host: "a", Port: 2135}, {Host: "b", Port: 2135}, {Host: "c", Port: 2135},
	}}}
	prober := fakeProber{down: map[string]bool{"b:2135": true}}

	res := newTestResolver(3, prober).Resolve(context.Background(), []Source{src}, "")
	assert.Equal(t, 3, res.Candidates)
	require.Len(t, res.Endpoints, 2)
	assert.Equal(t, "a", res.Endpoints[0].Host)
	assert.Equal(t, "c", res.Endpoints[1].Host)
}

func TestResolve_UnreachableFirstOccurrenceDoesNotHideHost(t *testing.T) {
	src := &fakeSource{id: "s", listing: &Listing{Candidates: []model.Endpoint{
		{Host: "sitea.example.se", Port: 2136},
		{Host: "sitea.example.se", Port: 2135},
		{Host: "siteb.example.se", Port: 2135},
	}}}
	prober := fakeProber{down: map[string]bool{"sitea.example.se:2136": true}}

	res := newTestResolver(3, prober).Resolve(context.Background(), []Source{src}, model.SchemaGLUE2)
	assert.Equal(t, 2, res.Candidates)
	require.Len(t, res.Endpoints, 2)
	assert.Equal(t, "sitea.example.se", res.Endpoints[0].Host)
	assert.Equal(t, 2135, res.Endpoints[0].Port)
	assert.Equal(t, model.BaseDNGLUE2, res.Endpoints[0].Base)
	assert.Equal(t, "siteb.example.se", res.Endpoints[1].Host)
}

func TestResolve_CycleVisitedOnce(t *testing.T) {
	a := &fakeSource{id: "a"}
	b := &fakeSource{id: "b"}
	a.listing = &Listing{Candidates: []model.Endpoint{{Host: "x", Port: 2135}}, Children: []Source{b}}
	b.listing = &Listing{Candidates: []model.Endpoint{{Host: "y", Port: 2135}}, Children: []Source{a}}

	res := newTestResolver(5, fakeProber{}).Resolve(context.Background(), []Source{a}, "")
	assert.Equal(t, int32(1), a.requests.Load())
	assert.Equal(t, int32(1), b.requests.Load())
	assert.Len(t, res.Endpoints, 2)
	assert.Equal(t, 2, res.Registries)
}

func TestResolve_DepthLimit(t *testing.T) {
	leaf := &fakeSource{id: "leaf", listing: &Listing{Candidates: []model.Endpoint{{Host: "deep", Port: 2135}}}}
	mid := &fakeSource{id: "mid", listing: &Listing{Children: []Source{leaf}}}
	top := &fakeSource{id: "top", listing: &Listing{
		Candidates: []model.Endpoint{{Host: "shallow", Port: 2135}},
		Children:   []Source{mid},
	}}

	res := newTestResolver(2, fakeProber{}).Resolve(context.Background(), []Source{top}, "")
	assert.Zero(t, leaf.requests.Load(), "источник глубже лимита не опрашивается")
	require.Len(t, res.Endpoints, 1)
	assert.Equal(t, "shallow", res.Endpoints[0].Host)
}

func TestResolve_FailedRegistryDoesNotAbort(t *testing.T) {
	bad := &fakeSource{id: "bad", err: errors.New("connection refused")}
	good := &fakeSource{id: "good", listing: &Listing{Candidates: []model.Endpoint{{Host: "ok", Port: 2135}}}}

	res := newTestResolver(3, fakeProber{}).Resolve(context.Background(), []Source{bad, good}, "")
	require.Len(t, res.Endpoints, 1)
	assert.Equal(t, "ok", res.Endpoints[0].Host)
}

// fakeSearcher возвращает записи EGIIS по URL индекса.
type fakeSearcher struct {
	entries map[string][]*ldap.Entry
}

func (f fakeSearcher) Search(_ context.Context, url, _, _ string, _ []string) ([]*ldap.Entry, error) {
	return f.entries[url], nil
}

func TestGIISSource_List(t *testing.T) {
	searcher := fakeSearcher{entries: map[string][]*ldap.Entry{
		"ldap://index.example.org:2135": {
			ldap.NewEntry("Mds-Vo-name=Sweden,o=grid", map[string][]string{
				attrServiceHost:   {"index.se.example.org"},
				attrServicePort:   {"2135"},
				attrServiceSuffix: {"Mds-Vo-name=Sweden,o=grid"},
			}),
			ldap.NewEntry("nordugrid-cluster-name=ce.example.no,Mds-Vo-name=local,o=grid", map[string][]string{
				attrServiceHost:   {"CE.example.no"},
				attrServicePort:   {"2136"},
				attrServiceSuffix: {"nordugrid-cluster-name=ce.example.no,Mds-Vo-name=local,o=grid"},
			}),
			ldap.NewEntry("broken", map[string][]string{attrServicePort: {"2135"}}),
		},
	}}

	src, err := NewGIISSource("ldap://index.example.org/Mds-Vo-name=NorduGrid,o=grid", searcher)
	require.NoError(t, err)

	listing, err := src.List(context.Background())
	require.NoError(t, err)

	require.Len(t, listing.Candidates, 1)
	assert.Equal(t, "ce.example.no", listing.Candidates[0].Host)
	assert.Equal(t, 2136, listing.Candidates[0].Port)
	assert.Equal(t, model.SchemaNG, listing.Candidates[0].Schema)

	require.Len(t, listing.Children, 1)
	assert.Equal(t, "giis:ldap://index.se.example.org:2135/mds-vo-name=sweden,o=grid", listing.Children[0].ID())
}

func TestNewGIISSource_KeepsFullBase(t *testing.T) {
	src, err := NewGIISSource("ldap://index1.nordugrid.org:2135/Mds-Vo-name=NorduGrid,o=grid", fakeSearcher{})
	require.NoError(t, err)
	assert.Equal(t, "giis:ldap://index1.nordugrid.org:2135/mds-vo-name=nordugrid,o=grid", src.ID())

	// Хвост DN, оторванный от адреса, не принимается за хост реестра
	_, err = NewGIISSource("o=grid", fakeSearcher{})
	assert.Error(t, err)
}

func TestEMIRSource_List(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/services/query.json", r.URL.Path)
		assert.Equal(t, "information.discovery.resource", r.URL.Query().Get("Service_Endpoint_Capability"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"Service_Endpoint_URL": "ldap://ce1.example.se:2135/o=glue"},
			{"Service_Endpoint_URL": ["ldap://ce2.example.no:2135/Mds-Vo-name=local,o=grid", "https://ce2.example.no:443/arex"]},
			{"Service_Name": "no url"}
		]`))
	}))
	defer srv.Close()

	src, err := NewEMIRSource(srv.URL+"/", srv.Client(), testLogger())
	require.NoError(t, err)

	listing, err := src.List(context.Background())
	require.NoError(t, err)
	require.Len(t, listing.Candidates, 2)
	assert.Equal(t, "ce1.example.se", listing.Candidates[0].Host)
	assert.Equal(t, model.SchemaGLUE2, listing.Candidates[0].Schema)
	assert.Equal(t, "ce2.example.no", listing.Candidates[1].Host)
	assert.Equal(t, model.SchemaNG, listing.Candidates[1].Schema)
	assert.Equal(t, src.ID(), listing.Candidates[0].Source)
}

func TestEMIRSource_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	src, err := NewEMIRSource(srv.URL, srv.Client(), testLogger())
	require.NoError(t, err)

	_, err = src.List(context.Background())
	assert.Error(t, err)
}

// fakeDNS — TXT-записи по имени.
type fakeDNS map[string][]string

func (f fakeDNS) LookupTXT(_ context.Context, name string) ([]string, error) {
	txt, ok := f[name]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: name, IsNotFound: true}
	}
	return txt, nil
}

func TestARCHERYSource_List(t *testing.T) {
	dns := fakeDNS{
		"_archery.example.org": {
			"u=ldap://ce1.example.org:2135/Mds-Vo-name=local,o=grid t=org.nordugrid.ldapng",
			"u=ldap://ce2.example.org:2135 t=org.nordugrid.ldapglue2",
			"u=ldap://ce3.example.org:2135/o=glue t=org.nordugrid.ldapglue2 s=0",
			"u=https://ce1.example.org:443/arex t=org.nordugrid.arcrest",
			"u=dns://_archery.sweden.example.org t=archery.group",
		},
	}

	src, err := NewARCHERYSource("example.org", dns)
	require.NoError(t, err)
	assert.Equal(t, "archery:_archery.example.org", src.ID())

	listing, err := src.List(context.Background())
	require.NoError(t, err)

	require.Len(t, listing.Candidates, 2)
	assert.Equal(t, "ce1.example.org", listing.Candidates[0].Host)
	assert.Equal(t, model.SchemaNG, listing.Candidates[0].Schema)
	assert.Equal(t, "ce2.example.org", listing.Candidates[1].Host)
	assert.Equal(t, model.SchemaGLUE2, listing.Candidates[1].Schema)
	assert.Equal(t, model.BaseDNGLUE2, listing.Candidates[1].Base)

	require.Len(t, listing.Children, 1)
	assert.Equal(t, "archery:_archery.sweden.example.org", listing.Children[0].ID())
}

func TestBuild(t *testing.T) {
	sources, err := Build(Lists{
		Static:  []string{"ce1.example.se"},
		GIIS:    []string{"ldap://index.example.org:2135/Mds-Vo-name=NorduGrid,o=grid"},
		EMIR:    []string{"https://emir.example.org:9126"},
		ARCHERY: []string{"example.org"},
	}, Deps{LDAP: fakeSearcher{}, HTTP: http.DefaultClient, DNS: fakeDNS{}, Logger: testLogger()})
	require.NoError(t, err)
	require.Len(t, sources, 4)
	assert.Equal(t, []string{"https://emir.example.org:9126"}, EMIRURLs(sources))

	_, err = Build(Lists{EMIR: []string{"ftp://emir.example.org"}}, Deps{Logger: testLogger()})
	assert.Error(t, err)
}

func TestTCPReachability(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	p := TCPProber{Timeout: time.Second}
	assert.True(t, p.Reachable(context.Background(), addr))

	ln.Close()
	assert.False(t, p.Reachable(context.Background(), addr))
}

func TestDirectory_CheckReady(t *testing.T) {
	r := newTestResolver(3, fakeProber{})

	status, _ := NewDirectory(r, nil).CheckReady()
	assert.Equal(t, "degraded", status)

	static, err := NewStaticSource([]string{"ce1.example.se"})
	require.NoError(t, err)
	d := NewDirectory(r, []Source{static})
	status, msg := d.CheckReady()
	assert.Equal(t, "ok", status)
	assert.Equal(t, "источников: 1", msg)
	assert.Equal(t, 1, d.Sources())
	assert.Equal(t, "registries", d.Name())
}
