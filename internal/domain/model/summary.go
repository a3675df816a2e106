package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ViewAll — вид по умолчанию (все сайты).
const ViewAll = "all"

// CacheKey — ключ кэша агрегированных данных.
type CacheKey struct {
	View   string
	Schema Schema
	Locale string
}

// String — строковое представление ключа (используется для LRU, singleflight и БД).
func (k CacheKey) String() string {
	return fmt.Sprintf("loadmon-%s-%s-%s", k.Schema, k.Locale, k.View)
}

// SortKey — порядок сортировки строк сводки.
type SortKey string

const (
	// SortCountry — по коду страны (по умолчанию).
	SortCountry SortKey = "country"
	// SortCPU — по заявленному числу CPU (по убыванию).
	SortCPU SortKey = "cpu"
	// SortGridRunning — по числу выполняющихся грид-задач (по убыванию).
	SortGridRunning SortKey = "grun"
)

// ParseSortKey разбирает порядок сортировки; пустая строка — SortCountry.
func ParseSortKey(s string) (SortKey, error) {
	switch SortKey(s) {
	case "", SortCountry:
		return SortCountry, nil
	case SortCPU:
		return SortCPU, nil
	case SortGridRunning:
		return SortGridRunning, nil
	default:
		return "", fmt.Errorf("неизвестный порядок сортировки %q, допустимые: country, cpu, grun", s)
	}
}

// SummaryRow — одна строка сводки: сайт и производные поля.
type SummaryRow struct {
	Site NormalizedSite `json:"site"`
	// Discovery — порядковый номер сайта при обнаружении (стабильный tie-breaker)
	Discovery     int     `json:"discovery"`
	LoadRatio     float64 `json:"load_ratio"`
	GridLoadRatio float64 `json:"grid_load_ratio"`
	Annotation    string  `json:"annotation,omitempty"`
}

// NewSummaryRow строит строку сводки из согласованного сайта.
func NewSummaryRow(site NormalizedSite, discovery int) SummaryRow {
	return SummaryRow{
		Site:          site,
		Discovery:     discovery,
		LoadRatio:     site.LoadRatio(),
		GridLoadRatio: site.GridLoadRatio(),
		Annotation:    site.Annotation(),
	}
}

// CountryGroup — непрерывная группа строк с одинаковым ключом.
type CountryGroup struct {
	Key  string       `json:"key"`
	Size int          `json:"size"`
	Rows []SummaryRow `json:"rows"`
}

// Totals — итоговые суммы по отображаемым строкам.
type Totals struct {
	Clusters     int `json:"clusters"`
	CPU          int `json:"cpu"`
	GridRunning  int `json:"grid_running"`
	LocalRunning int `json:"local_running"`
	GridQueued   int `json:"grid_queued"`
	LocalQueued  int `json:"local_queued"`
}

// EndpointTrace — отладочная информация об опросе одного сайта.
type EndpointTrace struct {
	Host     string        `json:"host"`
	Port     int           `json:"port"`
	Records  int           `json:"records"`
	Duration time.Duration `json:"duration_ns"`
	Error    string        `json:"error,omitempty"`
	Timeout  bool          `json:"timeout,omitempty"`
	Skipped  string        `json:"skipped,omitempty"`
}

// Snapshot — кэшируемый результат одного прохода конвейера.
// Rows хранятся в порядке обнаружения; сортировка применяется при чтении.
// После помещения в кэш не изменяется.
type Snapshot struct {
	ID          uuid.UUID       `json:"id"`
	Key         CacheKey        `json:"key"`
	Rows        []SummaryRow    `json:"rows"`
	Resolved    int             `json:"resolved"`
	Reachable   int             `json:"reachable"`
	Replied     int             `json:"replied"`
	Failed      int             `json:"failed"`
	GeneratedAt time.Time       `json:"generated_at"`
	Trace       []EndpointTrace `json:"trace,omitempty"`
}

// SummaryStatus — итог запроса сводки.
type SummaryStatus string

const (
	// StatusOK — все достижимые сайты ответили.
	StatusOK SummaryStatus = "ok"
	// StatusPartial — часть сайтов не ответила или была пропущена.
	StatusPartial SummaryStatus = "partial"
	// StatusNoSitesFound — реестры не вернули ни одного сайта.
	StatusNoSitesFound SummaryStatus = "no_sites_found"
	// StatusNoSitesReplied — ни один сайт не оказался достижим.
	StatusNoSitesReplied SummaryStatus = "no_sites_replied"
)

// Summary — ответ конвейера для слоя представления.
type Summary struct {
	SnapshotID  uuid.UUID       `json:"snapshot_id"`
	Status      SummaryStatus   `json:"status"`
	Schema      Schema          `json:"schema"`
	Locale      string          `json:"locale"`
	Order       SortKey         `json:"order"`
	Filter      string          `json:"filter,omitempty"`
	Groups      []CountryGroup  `json:"groups"`
	Totals      Totals          `json:"totals"`
	Resolved    int             `json:"resolved"`
	Replied     int             `json:"replied"`
	Failed      int             `json:"failed"`
	FromCache   bool            `json:"from_cache"`
	GeneratedAt time.Time       `json:"generated_at"`
	Trace       []EndpointTrace `json:"trace,omitempty"`
}
