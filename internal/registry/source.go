// Пакет registry — обнаружение сайтов через реестры.
// Источник (Source) возвращает кандидатов и, возможно, дочерние реестры;
// рекурсией, дедупликацией и проверкой доступности управляет Resolver.
package registry

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/bigkaa/gridmon/internal/domain/model"
)

// Source — один реестр сайтов.
type Source interface {
	// ID — идентичность источника (для защиты от циклов).
	ID() string
	// List запрашивает реестр.
	List(ctx context.Context) (*Listing, error)
}

// Listing — ответ реестра: кандидаты-сайты и вложенные реестры.
type Listing struct {
	Candidates []model.Endpoint
	Children   []Source
}

// StaticSource — фиксированный список сайтов из конфигурации.
type StaticSource struct {
	endpoints []model.Endpoint
}

// NewStaticSource разбирает записи вида host[:port][/base] или ldap://host[:port][/base].
func NewStaticSource(entries []string) (*StaticSource, error) {
	s := &StaticSource{endpoints: make([]model.Endpoint, 0, len(entries))}
	for _, e := range entries {
		ep, err := ParseEndpoint(e)
		if err != nil {
			return nil, err
		}
		ep.Source = s.ID()
		s.endpoints = append(s.endpoints, ep)
	}
	return s, nil
}

// ID реализует Source.
func (s *StaticSource) ID() string { return "static" }

// List реализует Source.
func (s *StaticSource) List(_ context.Context) (*Listing, error) {
	out := make([]model.Endpoint, len(s.endpoints))
	copy(out, s.endpoints)
	return &Listing{Candidates: out}, nil
}

// ParseEndpoint разбирает адрес сайта.
// Порт по умолчанию — 2135; схема определяется по базовому DN (пусто — не задана).
func ParseEndpoint(raw string) (model.Endpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return model.Endpoint{}, fmt.Errorf("пустой адрес сайта")
	}
	if !strings.Contains(raw, "://") {
		raw = "ldap://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return model.Endpoint{}, fmt.Errorf("адрес сайта %q: %w", raw, err)
	}
	if u.Scheme != "ldap" {
		return model.Endpoint{}, fmt.Errorf("адрес сайта %q: неподдерживаемая схема %q", raw, u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return model.Endpoint{}, fmt.Errorf("адрес сайта %q: не указан хост", raw)
	}
	if strings.Contains(host, "=") {
		return model.Endpoint{}, fmt.Errorf("адрес сайта %q: некорректный хост %q", raw, host)
	}

	port := model.DefaultLDAPPort
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return model.Endpoint{}, fmt.Errorf("адрес сайта %q: некорректный порт %q", raw, p)
		}
	}

	base := strings.TrimPrefix(u.Path, "/")
	return model.Endpoint{
		Host:   strings.ToLower(host),
		Port:   port,
		Base:   base,
		Schema: model.SchemaForBase(base),
	}, nil
}
