package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/ymera-labs/ymera/core"
)

// presenceRecord is the JSON shape cached in Redis: a cross-process snapshot
// of one agent's presence, behind the in-memory authoritative Registry.
type presenceRecord struct {
	AgentID      string   `json:"agent_id"`
	Type         string   `json:"type"`
	Capabilities []string `json:"capabilities"`
	State        string   `json:"state"`
	HealthScore  float64  `json:"health_score"`
	Load         int      `json:"load"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// PresenceCache mirrors agent presence into Redis so other control-plane
// processes (or a future read-replica) can answer "is agent X around"
// without reaching the owning Registry directly. It is not authoritative:
// the in-memory Registry always wins, this is best-effort and TTL-bound,
// grounded on the teacher's RedisRegistry connection tuning
// (core/redis_registry.go in the teacher tree).
type PresenceCache struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
	logger    core.Logger
}

// NewPresenceCache connects to redisURL with production-grade pool tuning
// matching the teacher's RedisRegistry defaults.
func NewPresenceCache(redisURL, namespace string, ttl time.Duration, logger core.Logger) (*PresenceCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, core.NewError("NewPresenceCache", core.KindInvalidRequest, core.ErrInvalidConfiguration)
	}
	opt.PoolSize = 10
	opt.MinIdleConns = 5
	opt.MaxRetries = 3
	opt.MinRetryBackoff = 100 * time.Millisecond
	opt.MaxRetryBackoff = time.Second
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 5 * time.Second
	opt.WriteTimeout = 5 * time.Second
	opt.PoolTimeout = 10 * time.Second

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("presence cache: connect to redis: %w", core.ErrDependencyFailed)
	}

	if namespace == "" {
		namespace = "ymera"
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &PresenceCache{client: client, namespace: namespace, ttl: ttl, logger: logger}, nil
}

func (c *PresenceCache) key(agentID string) string {
	return fmt.Sprintf("%s:presence:%s", c.namespace, agentID)
}

// Put mirrors one agent's current presence with a TTL refresh. The Registry
// does not call it, and nothing else in this module does either.
func (c *PresenceCache) Put(ctx context.Context, agent *Agent) error {
	rec := presenceRecord{
		AgentID:      agent.AgentID,
		Type:         agent.Type,
		Capabilities: agent.CapabilityList(),
		State:        string(agent.State),
		HealthScore:  agent.HealthScore,
		Load:         agent.Load,
		UpdatedAt:    time.Now(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("presence cache: marshal: %w", err)
	}
	if err := c.client.Set(ctx, c.key(agent.AgentID), data, c.ttl).Err(); err != nil {
		c.logger.Warn("presence cache put failed", map[string]interface{}{"agent_id": agent.AgentID, "error": err.Error()})
		return fmt.Errorf("presence cache: %w", core.ErrDependencyFailed)
	}
	return nil
}

// Remove deletes an agent's cached presence. Nothing in this module calls it.
func (c *PresenceCache) Remove(ctx context.Context, agentID string) error {
	if err := c.client.Del(ctx, c.key(agentID)).Err(); err != nil {
		return fmt.Errorf("presence cache: %w", core.ErrDependencyFailed)
	}
	return nil
}

// Close releases the underlying Redis client.
func (c *PresenceCache) Close() error {
	return c.client.Close()
}
