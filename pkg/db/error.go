package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := err.Error()
	switch {
	// postgres 23505
	case strings.Contains(msg, "duplicate key value violates unique constraint"):
		return true
	// mysql 1062
	case strings.Contains(msg, "Error 1062"):
		return true
	// sqlite 2067
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return true
	}
	return false
}
