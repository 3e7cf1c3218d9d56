package shopassist

import (
	"strconv"
	"strings"
)

// sqlDialect captures the differences between the SQL backends: placeholder style,
// case-insensitive matching and whether writes must be serialized in-process.
type sqlDialect struct {
	name        string
	dollarBinds bool
	likeOp      string
	serialize   bool
}

var (
	sqliteDialect   = sqlDialect{name: "sqlite3", likeOp: "LIKE", serialize: true}
	postgresDialect = sqlDialect{name: "postgres", dollarBinds: true, likeOp: "ILIKE"}
)

// rebind rewrites '?' placeholders into the dialect's form.
func (d sqlDialect) rebind(query string) string {
	if !d.dollarBinds {
		return query
	}

	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// likePattern escapes LIKE wildcards in s and wraps it for a substring match.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}
