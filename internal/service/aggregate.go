// aggregate.go — сортировка, группировка по стране/VO и итоговые суммы.
package service

import (
	"cmp"
	"slices"
	"strings"

	"github.com/bigkaa/gridmon/internal/domain/model"
)

// VOFilterPrefix — префикс вида, оставляющего одну группу (display=vo=SE).
const VOFilterPrefix = "vo="

// Aggregation — результат агрегации.
type Aggregation struct {
	Groups []model.CountryGroup
	Totals model.Totals
}

// Aggregate сортирует строки, группирует их по стране и считает итоги.
// group — фильтр группы (пусто — все группы); итоги считаются по отображаемым строкам.
// Исходный срез не изменяется.
func Aggregate(rows []model.SummaryRow, order model.SortKey, group string) Aggregation {
	sorted := slices.Clone(rows)
	sortRows(sorted, order)

	if group != "" {
		sorted = slices.DeleteFunc(sorted, func(r model.SummaryRow) bool {
			return !strings.EqualFold(r.Site.Country, group)
		})
	}

	return Aggregation{
		Groups: groupRows(sorted),
		Totals: totals(sorted),
	}
}

// sortRows — полный порядок: ключ сортировки, затем порядок обнаружения.
func sortRows(rows []model.SummaryRow, order model.SortKey) {
	slices.SortStableFunc(rows, func(a, b model.SummaryRow) int {
		var c int
		switch order {
		case model.SortCPU:
			c = cmp.Compare(b.Site.TotalCPU, a.Site.TotalCPU)
		case model.SortGridRunning:
			c = cmp.Compare(b.Site.Running.Grid, a.Site.Running.Grid)
		default:
			c = cmp.Compare(a.Site.Country, b.Site.Country)
		}
		if c != 0 {
			return c
		}
		return cmp.Compare(a.Discovery, b.Discovery)
	})
}

// groupRows разбивает строки на непрерывные группы с одинаковой страной.
// При сортировке не по стране одна страна может дать несколько групп.
func groupRows(rows []model.SummaryRow) []model.CountryGroup {
	groups := make([]model.CountryGroup, 0)
	for _, r := range rows {
		if n := len(groups); n > 0 && groups[n-1].Key == r.Site.Country {
			groups[n-1].Rows = append(groups[n-1].Rows, r)
			groups[n-1].Size++
			continue
		}
		groups = append(groups, model.CountryGroup{
			Key:  r.Site.Country,
			Size: 1,
			Rows: []model.SummaryRow{r},
		})
	}
	return groups
}

func totals(rows []model.SummaryRow) model.Totals {
	var t model.Totals
	for _, r := range rows {
		t.Clusters++
		t.CPU += r.Site.TotalCPU
		t.GridRunning += r.Site.Running.Grid
		t.LocalRunning += r.Site.Running.Local
		t.GridQueued += r.Site.Queued.Grid
		t.LocalQueued += r.Site.Queued.Local
	}
	return t
}

// ParseGroupFilter извлекает код группы из вида display=vo=<code>.
func ParseGroupFilter(view string) (string, bool) {
	if !strings.HasPrefix(view, VOFilterPrefix) {
		return "", false
	}
	return strings.TrimPrefix(view, VOFilterPrefix), true
}
