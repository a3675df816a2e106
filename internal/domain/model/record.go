package model

import (
	"strconv"
	"strings"
)

// ObjectKind — дискриминант типа LDAP-объекта внутри объединённой выборки.
type ObjectKind int

const (
	// KindUnknown — объект не относится к интересующим классам.
	KindUnknown ObjectKind = iota
	// KindCluster — nordugrid-cluster / GLUE2ComputingService.
	KindCluster
	// KindQueue — nordugrid-queue / GLUE2ComputingShare.
	KindQueue
	// KindManager — GLUE2ComputingManager (CPU-счётчики в GLUE2).
	KindManager
	// KindLocation — GLUE2Location.
	KindLocation
	// KindContact — GLUE2Contact.
	KindContact
	// KindAdminDomain — GLUE2AdminDomain.
	KindAdminDomain
	// KindExecEnv — GLUE2ExecutionEnvironment.
	KindExecEnv
	// KindJob — nordugrid-job / GLUE2ComputingActivity.
	KindJob
	// KindAuthUser — nordugrid-authuser (допуск пользователя к очереди, только NG).
	KindAuthUser
)

var kindNames = map[ObjectKind]string{
	KindUnknown:     "unknown",
	KindCluster:     "cluster",
	KindQueue:       "queue",
	KindManager:     "manager",
	KindLocation:    "location",
	KindContact:     "contact",
	KindAdminDomain: "admin_domain",
	KindExecEnv:     "execution_environment",
	KindJob:         "job",
	KindAuthUser:    "auth_user",
}

func (k ObjectKind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// RawRecord — «сырой» объект, полученный от информационного сервиса сайта.
// Имена атрибутов приведены к нижнему регистру.
type RawRecord struct {
	// DN — distinguished name объекта
	DN string
	// Kind — тип объекта, определённый по DN
	Kind ObjectKind
	// Attrs — атрибуты объекта (многозначные)
	Attrs map[string][]string
}

// NewRawRecord создаёт запись, нормализуя имена атрибутов.
func NewRawRecord(dn string, attrs map[string][]string) RawRecord {
	norm := make(map[string][]string, len(attrs))
	for k, v := range attrs {
		key := strings.ToLower(k)
		norm[key] = append(norm[key], v...)
	}
	return RawRecord{DN: dn, Attrs: norm}
}

// First возвращает первое значение атрибута или пустую строку.
func (r RawRecord) First(name string) string {
	vals := r.Attrs[strings.ToLower(name)]
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

// Has сообщает, присутствует ли атрибут с непустым значением.
func (r RawRecord) Has(name string) bool {
	return strings.TrimSpace(r.First(name)) != ""
}

// Int возвращает целочисленное значение атрибута.
// ok=false, если атрибут отсутствует или не является числом.
func (r RawRecord) Int(name string) (int, bool) {
	v := strings.TrimSpace(r.First(name))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// IntOr возвращает значение атрибута или def.
func (r RawRecord) IntOr(name string, def int) int {
	if n, ok := r.Int(name); ok {
		return n
	}
	return def
}

// Values возвращает все значения атрибута.
func (r RawRecord) Values(name string) []string {
	return r.Attrs[strings.ToLower(name)]
}
