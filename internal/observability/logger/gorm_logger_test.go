package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	gormlogger "gorm.io/gorm/logger"
)

func TestOperationFromSQL(t *testing.T) {
	cases := map[string]string{
		"SELECT * FROM obligations":                        "SELECT",
		"  insert into revenue_splits (id) values (1)":     "INSERT",
		"WITH x AS (SELECT 1) UPDATE obligations SET a=1": "SELECT",
		"":                                                 "UNKNOWN",
		"PRAGMA foreign_keys":                              "UNKNOWN",
	}
	for sql, want := range cases {
		assert.Equal(t, want, operationFromSQL(sql), sql)
	}
}

func TestGormLoggerLogModeCopies(t *testing.T) {
	base := NewGormLogger(DefaultGormLoggerConfig())
	quiet := base.LogMode(gormlogger.Silent).(*GormLogger)

	assert.Equal(t, gormlogger.Silent, quiet.cfg.Level)
	assert.Equal(t, gormlogger.Warn, base.cfg.Level)
}
