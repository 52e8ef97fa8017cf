package sqlstore

import "github.com/lib/pq"

// postgres error code for unique_violation; see
// https://www.postgresql.org/docs/current/errcodes-appendix.html.
const uniqueViolationCode = "23505"

func isUniqueViolation(err error) bool {
	pqErr, ok := err.(*pq.Error)
	if !ok {
		return false
	}
	return pqErr.Code == uniqueViolationCode
}
