package registry

import (
	"fmt"
	"log/slog"
	"net/http"
)

// Lists — списки источников из конфигурации.
type Lists struct {
	GIIS    []string
	EMIR    []string
	ARCHERY []string
	Static  []string
}

// Deps — транспорт, используемый источниками.
type Deps struct {
	LDAP   Searcher
	HTTP   *http.Client
	DNS    TXTResolver
	Logger *slog.Logger
}

// Build создаёт источники из списков конфигурации.
// Порядок: статические сайты, EGIIS, EMIR, ARCHERY.
func Build(lists Lists, deps Deps) ([]Source, error) {
	var sources []Source

	if len(lists.Static) > 0 {
		s, err := NewStaticSource(lists.Static)
		if err != nil {
			return nil, fmt.Errorf("статический список: %w", err)
		}
		sources = append(sources, s)
	}
	for _, raw := range lists.GIIS {
		s, err := NewGIISSource(raw, deps.LDAP)
		if err != nil {
			return nil, err
		}
		sources = append(sources, s)
	}
	for _, raw := range lists.EMIR {
		s, err := NewEMIRSource(raw, deps.HTTP, deps.Logger)
		if err != nil {
			return nil, err
		}
		sources = append(sources, s)
	}
	for _, raw := range lists.ARCHERY {
		s, err := NewARCHERYSource(raw, deps.DNS)
		if err != nil {
			return nil, err
		}
		sources = append(sources, s)
	}
	return sources, nil
}

// EMIRURLs возвращает адреса реестров EMIR среди источников (для мониторинга зависимостей).
func EMIRURLs(sources []Source) []string {
	var urls []string
	for _, s := range sources {
		if e, ok := s.(*EMIRSource); ok {
			urls = append(urls, e.URL())
		}
	}
	return urls
}
