package registry

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-ldap/ldap/v3"

	"github.com/bigkaa/gridmon/internal/domain/model"
)

// Атрибуты регистраций EGIIS.
const (
	attrServiceHost   = "Mds-Service-hn"
	attrServicePort   = "Mds-Service-port"
	attrServiceSuffix = "Mds-Service-Ldap-suffix"

	giisFilter = "(objectClass=MdsService)"
	// DefaultGIISBase — базовый DN верхнего индекса NorduGrid.
	DefaultGIISBase = "Mds-Vo-name=NorduGrid,o=grid"
)

// Searcher — LDAP-поиск (реализуется ldapclient.Client).
type Searcher interface {
	Search(ctx context.Context, url, base, filter string, attrs []string) ([]*ldap.Entry, error)
}

// GIISSource — LDAP-индекс EGIIS.
// Регистрация с суффиксом Mds-Vo-name=X (X != local) — вложенный индекс.
type GIISSource struct {
	url      string
	base     string
	searcher Searcher
}

// NewGIISSource разбирает URL вида ldap://host[:port][/Mds-Vo-name=X,o=grid].
func NewGIISSource(raw string, searcher Searcher) (*GIISSource, error) {
	if !strings.Contains(raw, "://") {
		raw = "ldap://" + raw
	}
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("адрес GIIS %q: %w", raw, err)
	}
	if u.Scheme != "ldap" || u.Hostname() == "" || strings.Contains(u.Hostname(), "=") {
		return nil, fmt.Errorf("адрес GIIS %q: ожидается ldap://host[:port]/base", raw)
	}
	port := u.Port()
	if port == "" {
		port = strconv.Itoa(model.DefaultLDAPPort)
	}
	base := strings.TrimPrefix(u.Path, "/")
	if base == "" {
		base = DefaultGIISBase
	}
	return &GIISSource{
		url:      "ldap://" + strings.ToLower(u.Hostname()) + ":" + port,
		base:     base,
		searcher: searcher,
	}, nil
}

// ID реализует Source.
func (g *GIISSource) ID() string {
	return "giis:" + g.url + "/" + strings.ToLower(g.base)
}

// List реализует Source.
func (g *GIISSource) List(ctx context.Context) (*Listing, error) {
	entries, err := g.searcher.Search(ctx, g.url, g.base, giisFilter,
		[]string{attrServiceHost, attrServicePort, attrServiceSuffix})
	if err != nil {
		return nil, fmt.Errorf("GIIS %s: %w", g.url, err)
	}

	listing := &Listing{}
	for _, e := range entries {
		host := strings.ToLower(strings.TrimSpace(e.GetAttributeValue(attrServiceHost)))
		if host == "" {
			continue
		}
		port, err := strconv.Atoi(strings.TrimSpace(e.GetAttributeValue(attrServicePort)))
		if err != nil || port < 1 || port > 65535 {
			port = model.DefaultLDAPPort
		}
		suffix := strings.TrimSpace(e.GetAttributeValue(attrServiceSuffix))

		if isChildIndex(suffix) {
			listing.Children = append(listing.Children, &GIISSource{
				url:      "ldap://" + host + ":" + strconv.Itoa(port),
				base:     suffix,
				searcher: g.searcher,
			})
			continue
		}

		listing.Candidates = append(listing.Candidates, model.Endpoint{
			Host:   host,
			Port:   port,
			Base:   suffix,
			Schema: model.SchemaForBase(suffix),
			Source: g.ID(),
		})
	}
	return listing, nil
}

// isChildIndex сообщает, указывает ли суффикс на другой индекс,
// а не на информационную систему сайта.
func isChildIndex(suffix string) bool {
	dn, err := ldap.ParseDN(suffix)
	if err != nil || len(dn.RDNs) == 0 {
		return false
	}
	for _, a := range dn.RDNs[0].Attributes {
		if strings.EqualFold(a.Type, "Mds-Vo-name") {
			return !strings.EqualFold(a.Value, "local")
		}
	}
	return false
}
