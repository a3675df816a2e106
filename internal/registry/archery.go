package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/bigkaa/gridmon/internal/domain/model"
)

// Типы записей ARCHERY.
const (
	archeryGroup    = "archery.group"
	archeryService  = "archery.service"
	archeryLDAPNG   = "org.nordugrid.ldapng"
	archeryLDAPGLUE = "org.nordugrid.ldapglue2"
)

// TXTResolver — DNS-запрос TXT-записей (реализуется *net.Resolver).
type TXTResolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// ARCHERYSource — DNS-реестр ARCHERY.
// Записи TXT по имени _archery.<name> содержат поля u= (URL), t= (тип), s= (статус).
type ARCHERYSource struct {
	name     string
	resolver TXTResolver
}

// NewARCHERYSource создаёт источник по DNS-имени (допускается префикс dns://).
func NewARCHERYSource(name string, resolver TXTResolver) (*ARCHERYSource, error) {
	name = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(name), "dns://"), ".")
	if name == "" {
		return nil, fmt.Errorf("пустое имя ARCHERY")
	}
	if !strings.HasPrefix(name, "_archery.") {
		name = "_archery." + name
	}
	return &ARCHERYSource{name: strings.ToLower(name), resolver: resolver}, nil
}

// ID реализует Source.
func (a *ARCHERYSource) ID() string { return "archery:" + a.name }

// archeryRecord — разобранная TXT-запись.
type archeryRecord struct {
	URL    string
	Type   string
	Status string
}

func parseArcheryRecord(txt string) archeryRecord {
	var rec archeryRecord
	for _, field := range strings.Fields(txt) {
		k, v, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch k {
		case "u":
			rec.URL = v
		case "t":
			rec.Type = v
		case "s":
			rec.Status = v
		}
	}
	return rec
}

// List реализует Source.
func (a *ARCHERYSource) List(ctx context.Context) (*Listing, error) {
	txts, err := a.resolver.LookupTXT(ctx, a.name)
	if err != nil {
		return nil, fmt.Errorf("ARCHERY %s: %w", a.name, err)
	}

	listing := &Listing{}
	for _, txt := range txts {
		rec := parseArcheryRecord(txt)
		if rec.URL == "" || rec.Status == "0" {
			continue
		}

		switch rec.Type {
		case archeryGroup, archeryService:
			if child := a.child(rec.URL); child != nil {
				listing.Children = append(listing.Children, child)
			}
		case archeryLDAPNG, archeryLDAPGLUE:
			ep, err := ParseEndpoint(rec.URL)
			if err != nil {
				continue
			}
			if ep.Schema == "" {
				ep.Schema = model.SchemaNG
				if rec.Type == archeryLDAPGLUE {
					ep.Schema = model.SchemaGLUE2
				}
				ep.Base = ep.Schema.BaseDN()
			}
			ep.Source = a.ID()
			listing.Candidates = append(listing.Candidates, ep)
		case "":
			// Запись без типа с dns:// — вложенная группа
			if strings.HasPrefix(rec.URL, "dns://") {
				if child := a.child(rec.URL); child != nil {
					listing.Children = append(listing.Children, child)
				}
			}
		}
	}
	return listing, nil
}

// child создаёт вложенный источник: имя из записи используется как есть, без префикса.
func (a *ARCHERYSource) child(u string) *ARCHERYSource {
	name := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(u), "dns://"), ".")
	if name == "" {
		return nil
	}
	return &ARCHERYSource{name: strings.ToLower(name), resolver: a.resolver}
}
