package repository

import (
	"errors"

	"github.com/lib/pq"
)

// ErrConflict は一意制約違反を表す。
var ErrConflict = errors.New("unique constraint violation")

// uniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const uniqueViolation = "23505"

// isUniqueViolation はエラーが一意制約違反かどうかを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}
