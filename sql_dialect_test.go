package shopassist

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSQLDialect_Rebind(t *testing.T) {
	q := "SELECT * FROM t WHERE a = ? AND b = ?"
	assert.Equal(t, q, sqliteDialect.rebind(q))
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", postgresDialect.rebind(q))
}

func TestLikePattern(t *testing.T) {
	assert.Equal(t, "%phone%", likePattern("phone"))
	assert.Equal(t, `%50\%\_off%`, likePattern("50%_off"))
}
