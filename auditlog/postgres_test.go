package auditlog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFanoutTopicIsNamespacedUnderAudit(t *testing.T) {
	assert.Equal(t, "audit.agent.registered", fanoutTopic("agent.registered"))
	assert.Equal(t, "audit.task.completed", fanoutTopic("task.completed"))
}

func TestBuildFilteredQueryWithNoFilterDefaultsLimitAndOmitsWhere(t *testing.T) {
	query, args := buildFilteredQuery(QueryFilter{})
	assert.NotContains(t, query, "WHERE")
	assert.Equal(t, []interface{}{100, 0}, args)
	assert.Contains(t, query, "LIMIT $1 OFFSET $2")
}

func TestBuildFilteredQueryCombinesKindAndTimeRangeConditions(t *testing.T) {
	since := time.Now().Add(-time.Hour)
	until := time.Now()
	query, args := buildFilteredQuery(QueryFilter{Kind: "agent.registered", Since: since, Until: until, Limit: 10, Offset: 5})

	assert.Contains(t, query, "WHERE kind = $1 AND recorded_at >= $2 AND recorded_at <= $3")
	assert.Contains(t, query, "LIMIT $4 OFFSET $5")
	assert.Equal(t, []interface{}{"agent.registered", since, until, 10, 5}, args)
}
