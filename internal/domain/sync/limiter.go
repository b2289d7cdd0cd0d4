package sync

import (
	"fmt"
	"math"
	"time"
)

// LimiterConfig настройки динамического ограничителя размера страницы
type LimiterConfig struct {
	InitialLimit          int
	MinLimit              int
	MaxLimit              int
	OptimalTimePerPage    time.Duration
	MaxLimitChangePerPage float64
}

// DefaultLimiterConfig значения по умолчанию центрального сервера
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		InitialLimit:          10000,
		MinLimit:              1000,
		MaxLimit:              40000,
		OptimalTimePerPage:    10 * time.Second,
		MaxLimitChangePerPage: 0.3,
	}
}

func (c LimiterConfig) Validate() error {
	switch {
	case c.MinLimit < 1:
		return fmt.Errorf("%w: min limit must be positive", ErrInvalidConfig)
	case c.MaxLimit < c.MinLimit:
		return fmt.Errorf("%w: max limit %d below min limit %d", ErrInvalidConfig, c.MaxLimit, c.MinLimit)
	case c.InitialLimit < c.MinLimit || c.InitialLimit > c.MaxLimit:
		return fmt.Errorf("%w: initial limit %d outside [%d, %d]", ErrInvalidConfig, c.InitialLimit, c.MinLimit, c.MaxLimit)
	case c.OptimalTimePerPage <= 0:
		return fmt.Errorf("%w: optimal time per page must be positive", ErrInvalidConfig)
	case c.MaxLimitChangePerPage < 0 || c.MaxLimitChangePerPage > 1:
		return fmt.Errorf("%w: max limit change per page must be within [0, 1]", ErrInvalidConfig)
	}
	return nil
}

// CalculatePageLimit вычисляет размер следующей страницы по времени обработки предыдущей.
//
// Без текущего лимита возвращается начальный. Отрицательная длительность (сдвиг часов)
// оставляет лимит без изменений. Иначе лимит стремится к OptimalTimePerPage, но за одну
// страницу меняется не больше чем на MaxLimitChangePerPage от текущего и всегда остается
// в [MinLimit, MaxLimit].
func CalculatePageLimit(cfg LimiterConfig, currentLimit int, lastPageDuration time.Duration) int {
	if currentLimit <= 0 {
		return cfg.InitialLimit
	}
	if lastPageDuration < 0 {
		return currentLimit
	}

	current := float64(currentLimit)
	perRecord := float64(lastPageDuration) / current
	optimal := math.Inf(1)
	if perRecord > 0 {
		optimal = float64(cfg.OptimalTimePerPage) / perRecord
	}

	maxChange := current * cfg.MaxLimitChangePerPage
	upper := math.Floor(current + maxChange)
	lower := math.Ceil(current - maxChange)
	next := math.Min(math.Max(math.Floor(optimal), lower), upper)

	next = math.Min(next, float64(cfg.MaxLimit))
	next = math.Max(next, float64(cfg.MinLimit))
	return int(next)
}
