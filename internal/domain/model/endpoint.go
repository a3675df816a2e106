// Пакет model — доменные модели монитора загрузки грид-ресурсов.
// Endpoint — сайт, обнаруженный через реестры; RawRecord — «сырой» LDAP-объект сайта;
// NormalizedSite — согласованные метрики сайта; Snapshot/Summary — результат агрегации.
package model

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Schema — поколение информационной схемы сайта.
type Schema string

const (
	// SchemaNG — схема NorduGrid (nordugrid-cluster / nordugrid-queue).
	SchemaNG Schema = "NG"
	// SchemaGLUE2 — схема GLUE2 (ComputingService / ComputingShare / ...).
	SchemaGLUE2 Schema = "GLUE2"
)

// Базовые DN информационных деревьев для каждой схемы.
const (
	BaseDNNG    = "Mds-Vo-name=local,o=grid"
	BaseDNGLUE2 = "o=glue"
)

// DefaultLDAPPort — стандартный порт информационной системы ARC.
const DefaultLDAPPort = 2135

// ParseSchema разбирает строковое значение схемы (регистр не важен).
func ParseSchema(s string) (Schema, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NG":
		return SchemaNG, nil
	case "GLUE2":
		return SchemaGLUE2, nil
	default:
		return "", fmt.Errorf("неизвестная схема %q, допустимые: NG, GLUE2", s)
	}
}

// BaseDN возвращает базовый DN поиска для схемы.
func (s Schema) BaseDN() string {
	if s == SchemaGLUE2 {
		return BaseDNGLUE2
	}
	return BaseDNNG
}

// SchemaForBase определяет схему по базовому DN.
// Пустое значение означает, что схема не распознана.
func SchemaForBase(base string) Schema {
	b := strings.ToLower(strings.ReplaceAll(base, " ", ""))
	switch {
	case b == "o=glue" || strings.HasSuffix(b, ",o=glue"):
		return SchemaGLUE2
	case strings.HasSuffix(b, "o=grid"):
		return SchemaNG
	default:
		return ""
	}
}

// Endpoint — информационный сервис сайта.
// Идентичность — Host; Port и Base — атрибуты.
type Endpoint struct {
	// Host — FQDN сайта
	Host string `json:"host"`
	// Port — порт LDAP-сервера информационной системы
	Port int `json:"port"`
	// Base — базовый DN для поиска
	Base string `json:"base"`
	// Schema — поколение схемы, которым опрашивается сайт
	Schema Schema `json:"schema"`
	// Source — идентификатор реестра, через который сайт найден
	Source string `json:"source,omitempty"`
}

// Address возвращает host:port.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// URL возвращает LDAP URL информационного сервиса.
func (e Endpoint) URL() string {
	return "ldap://" + e.Address()
}

// String — человекочитаемое представление для логов.
func (e Endpoint) String() string {
	return e.Address() + "/" + e.Base
}
