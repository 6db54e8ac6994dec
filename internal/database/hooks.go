package database

import (
	"time"

	"example.com/backstage/services/library/internal/metrics"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

const startTimeKey = "metrics:start_time"

// RegisterMetricsHooks records a timer and an error rate for every create,
// query, update and delete issued through db.
func RegisterMetricsHooks(db *gorm.DB, m *metrics.Metrics) error {
	cb := db.Callback()

	hooks := []struct {
		name   string
		before func(string) error
		after  func(string) error
	}{
		{
			name: metrics.TimerDBCreate,
			before: func(n string) error {
				return cb.Create().Before("gorm:create").Register("metrics:before_"+n, markStart)
			},
			after: func(n string) error {
				return cb.Create().After("gorm:create").Register("metrics:after_"+n, record(m, n))
			},
		},
		{
			name: metrics.TimerDBQuery,
			before: func(n string) error {
				return cb.Query().Before("gorm:query").Register("metrics:before_"+n, markStart)
			},
			after: func(n string) error {
				return cb.Query().After("gorm:query").Register("metrics:after_"+n, record(m, n))
			},
		},
		{
			name: metrics.TimerDBUpdate,
			before: func(n string) error {
				return cb.Update().Before("gorm:update").Register("metrics:before_"+n, markStart)
			},
			after: func(n string) error {
				return cb.Update().After("gorm:update").Register("metrics:after_"+n, record(m, n))
			},
		},
		{
			name: metrics.TimerDBDelete,
			before: func(n string) error {
				return cb.Delete().Before("gorm:delete").Register("metrics:before_"+n, markStart)
			},
			after: func(n string) error {
				return cb.Delete().After("gorm:delete").Register("metrics:after_"+n, record(m, n))
			},
		},
	}

	for _, h := range hooks {
		if err := h.before(h.name); err != nil {
			return errors.Wrapf(err, "failed to register %s start hook", h.name)
		}
		if err := h.after(h.name); err != nil {
			return errors.Wrapf(err, "failed to register %s metrics hook", h.name)
		}
	}

	return nil
}

func markStart(db *gorm.DB) {
	db.InstanceSet(startTimeKey, time.Now())
}

func record(m *metrics.Metrics, name string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		if start, ok := db.InstanceGet(startTimeKey); ok {
			m.RecordDuration(name, time.Since(start.(time.Time)))
		}

		// A missing row is an answer, not a failure
		if db.Error != nil && !IsRecordNotFoundError(db.Error) {
			m.RecordError(metrics.ErrorRateDatabase)
		} else {
			m.RecordSuccess(metrics.ErrorRateDatabase)
		}
	}
}
