// Package month границы календарных месяцев для отчётов. Все значения в UTC.
package month

import (
	"time"
)

// Start первый момент месяца, в который попадает t
func Start(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Back начало месяца на n месяцев раньше месяца t. Back(t, 0) == Start(t).
func Back(t time.Time, n int) time.Time {
	return Start(t).AddDate(0, -n, 0)
}

// End последний момент месяца, в который попадает t
func End(t time.Time) time.Time {
	return Start(t).AddDate(0, 1, 0).Add(-time.Nanosecond)
}
