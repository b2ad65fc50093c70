package telemetry

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

// dbHooks times every gorm operation and hands the result to after. After
// hooks run ahead of otelgorm's so the statement span is still open.
type dbHooks struct {
	prefix string
	after  func(tx *gorm.DB, verb string, elapsed time.Duration)
}

func (h dbHooks) register(db *gorm.DB) error {
	cb := db.Callback()
	return errors.Join(
		cb.Create().Before("gorm:create").Register(h.prefix+":before_create", h.start),
		cb.Create().After("gorm:create").Before("otel:after_create").Register(h.prefix+":after_create", h.finish("INSERT")),
		cb.Query().Before("gorm:query").Register(h.prefix+":before_query", h.start),
		cb.Query().After("gorm:query").Before("otel:after_query").Register(h.prefix+":after_query", h.finish("SELECT")),
		cb.Update().Before("gorm:update").Register(h.prefix+":before_update", h.start),
		cb.Update().After("gorm:update").Before("otel:after_update").Register(h.prefix+":after_update", h.finish("UPDATE")),
		cb.Delete().Before("gorm:delete").Register(h.prefix+":before_delete", h.start),
		cb.Delete().After("gorm:delete").Before("otel:after_delete").Register(h.prefix+":after_delete", h.finish("DELETE")),
		cb.Row().Before("gorm:row").Register(h.prefix+":before_row", h.start),
		cb.Row().After("gorm:row").Before("otel:after_row").Register(h.prefix+":after_row", h.finish("")),
		cb.Raw().Before("gorm:raw").Register(h.prefix+":before_raw", h.start),
		cb.Raw().After("gorm:raw").Before("otel:after_raw").Register(h.prefix+":after_raw", h.finish("")),
	)
}

func (h dbHooks) start(tx *gorm.DB) {
	tx.InstanceSet(h.prefix+":start", time.Now())
}

// finish derives the verb from the statement when verb is empty.
func (h dbHooks) finish(verb string) func(*gorm.DB) {
	return func(tx *gorm.DB) {
		var elapsed time.Duration
		if v, ok := tx.InstanceGet(h.prefix + ":start"); ok {
			if started, ok := v.(time.Time); ok {
				elapsed = time.Since(started)
			}
		}
		op := verb
		if op == "" {
			op = sqlVerb(tx.Statement.SQL.String())
		}
		h.after(tx, op, elapsed)
	}
}

// sqlVerb returns the upper-cased leading keyword of a statement.
func sqlVerb(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "UNKNOWN"
	}
	switch verb := strings.ToUpper(fields[0]); verb {
	case "SELECT", "INSERT", "UPDATE", "DELETE":
		return verb
	default:
		return "OTHER"
	}
}
