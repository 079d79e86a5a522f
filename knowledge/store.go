package knowledge

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/ymera-labs/ymera/core"
)

// EventPublisher is declared locally to avoid an import cycle with
// eventbus; deliveries are fire-and-forget per subscriber.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, payload core.Value)
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, core.Value) {}

// Config configures a Store.
type Config struct {
	Clock    core.Clock
	Logger   core.Logger
	Bus      EventPublisher
	AuditLog core.DurableLog
}

// Store is the Knowledge Store + Flow Manager (C7).
type Store struct {
	cfg Config

	mu            sync.RWMutex
	entries       map[string]*Entry
	headByHash    map[string]string // content hash -> latest entry id sharing that lineage
	subscriptions map[string]*Subscription
	byCategory    map[string]map[string]bool // category -> subscription ids

	metricsMu sync.Mutex
	metrics   FlowMetrics
}

// FlowMetrics tracks cumulative knowledge-flow activity.
type FlowMetrics struct {
	KnowledgeShared     int
	RequestsFulfilled   int
	SubscriptionsActive int
}

// New constructs a Store.
func New(cfg Config) *Store {
	if cfg.Clock == nil {
		cfg.Clock = core.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = &core.NoOpLogger{}
	}
	if cal, ok := cfg.Logger.(core.ComponentAwareLogger); ok {
		cfg.Logger = cal.WithComponent("knowledge")
	}
	if cfg.Bus == nil {
		cfg.Bus = noopPublisher{}
	}
	return &Store{
		cfg:           cfg,
		entries:       make(map[string]*Entry),
		headByHash:    make(map[string]string),
		subscriptions: make(map[string]*Subscription),
		byCategory:    make(map[string]map[string]bool),
	}
}

// StoreEntry appends a new entry, or — if content (by fingerprint)
// duplicates an existing entry's lineage head — increments usage_count on
// the existing entry and returns its id instead of creating a duplicate.
func (s *Store) StoreEntry(ctx context.Context, content, category, sourceAgentID string, tags []string, metadata core.Value) (string, error) {
	hash := fingerprint(content)

	s.mu.Lock()
	if existingID, dup := s.headByHash[hash]; dup {
		s.entries[existingID].UsageCount++
		s.mu.Unlock()
		return existingID, nil
	}

	entry := &Entry{
		EntryID:       uuid.NewString(),
		Category:      category,
		Content:       content,
		Tags:          append([]string(nil), tags...),
		SourceAgentID: sourceAgentID,
		CreatedAt:     s.cfg.Clock.Now(),
		Confidence:    1.0,
		Metadata:      metadata,
		ContentHash:   hash,
		Version:       1,
		UsageCount:    1,
	}
	s.entries[entry.EntryID] = entry
	s.headByHash[hash] = entry.EntryID
	s.mu.Unlock()

	s.audit(ctx, "knowledge.stored", sourceAgentID, entry.EntryID)
	s.NotifySubscribers(ctx, category, entry.EntryID, entry.snapshot())
	return entry.EntryID, nil
}

// UpdateEntry appends a new version linked to parentEntryID; the original
// row is never mutated, matching the append-only model.
func (s *Store) UpdateEntry(ctx context.Context, parentEntryID, content string, tags []string, metadata core.Value) (string, error) {
	s.mu.Lock()
	parent, ok := s.entries[parentEntryID]
	if !ok {
		s.mu.Unlock()
		return "", core.NewError("UpdateEntry", core.KindNotFound, core.ErrEntryNotFound)
	}

	hash := fingerprint(content)
	entry := &Entry{
		EntryID:       uuid.NewString(),
		Category:      parent.Category,
		Content:       content,
		Tags:          append([]string(nil), tags...),
		SourceAgentID: parent.SourceAgentID,
		CreatedAt:     s.cfg.Clock.Now(),
		Confidence:    parent.Confidence,
		Metadata:      metadata,
		ContentHash:   hash,
		Version:       parent.Version + 1,
		ParentEntryID: parentEntryID,
		UsageCount:    1,
	}
	s.entries[entry.EntryID] = entry
	s.headByHash[hash] = entry.EntryID
	s.mu.Unlock()

	s.audit(ctx, "knowledge.updated", parent.SourceAgentID, entry.EntryID)
	s.NotifySubscribers(ctx, entry.Category, entry.EntryID, entry.snapshot())
	return entry.EntryID, nil
}

// Get returns one entry by id.
func (s *Store) Get(entryID string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[entryID]
	if !ok {
		return nil, core.NewError("Get", core.KindNotFound, core.ErrEntryNotFound)
	}
	return e.snapshot(), nil
}

// Subscribe registers an active subscription and indexes it by category.
func (s *Store) Subscribe(agentID string, categories, tags []string, filters map[string]string) string {
	sub := &Subscription{
		SubscriptionID: uuid.NewString(),
		AgentID:        agentID,
		Categories:     append([]string(nil), categories...),
		Tags:           append([]string(nil), tags...),
		Filters:        filters,
		Active:         true,
	}

	s.mu.Lock()
	s.subscriptions[sub.SubscriptionID] = sub
	for _, cat := range categories {
		if s.byCategory[cat] == nil {
			s.byCategory[cat] = make(map[string]bool)
		}
		s.byCategory[cat][sub.SubscriptionID] = true
	}
	s.mu.Unlock()

	s.metricsMu.Lock()
	s.metrics.SubscriptionsActive++
	s.metricsMu.Unlock()
	return sub.SubscriptionID
}

// Unsubscribe deactivates a subscription; it is never deleted from the
// index so re-activation is possible later.
func (s *Store) Unsubscribe(subscriptionID string) error {
	s.mu.Lock()
	sub, ok := s.subscriptions[subscriptionID]
	if !ok {
		s.mu.Unlock()
		return core.NewError("Unsubscribe", core.KindNotFound, core.ErrSubscriptionNotFound)
	}
	wasActive := sub.Active
	sub.Active = false
	s.mu.Unlock()

	if wasActive {
		s.metricsMu.Lock()
		s.metrics.SubscriptionsActive--
		s.metricsMu.Unlock()
	}
	return nil
}

// NotifySubscribers delivers entry to every matching, active subscriber of
// category. Delivery is fire-and-forget per subscriber; a failure to
// publish to one subscriber is logged but never blocks the others.
func (s *Store) NotifySubscribers(ctx context.Context, category, entryID string, entry *Entry) {
	s.mu.RLock()
	var targets []*Subscription
	for subID := range s.byCategory[category] {
		if sub, ok := s.subscriptions[subID]; ok && sub.matches(entry) {
			targets = append(targets, sub)
		}
	}
	s.mu.RUnlock()

	for _, sub := range targets {
		s.deliver(ctx, sub.AgentID, entryID, entry)
	}
	if len(targets) > 0 {
		s.metricsMu.Lock()
		s.metrics.KnowledgeShared += len(targets)
		s.metricsMu.Unlock()
	}
}

// Broadcast delivers entryID to the union of subscribers of categories,
// minus exclude, via the same delivery path as NotifySubscribers.
func (s *Store) Broadcast(ctx context.Context, entryID string, categories []string, exclude map[string]bool) error {
	entry, err := s.Get(entryID)
	if err != nil {
		return err
	}

	s.mu.RLock()
	seen := make(map[string]bool)
	var targets []*Subscription
	for _, cat := range categories {
		for subID := range s.byCategory[cat] {
			if seen[subID] {
				continue
			}
			seen[subID] = true
			if sub, ok := s.subscriptions[subID]; ok && sub.Active && !exclude[sub.AgentID] && sub.matches(entry) {
				targets = append(targets, sub)
			}
		}
	}
	s.mu.RUnlock()

	for _, sub := range targets {
		s.deliver(ctx, sub.AgentID, entryID, entry)
	}
	if len(targets) > 0 {
		s.metricsMu.Lock()
		s.metrics.KnowledgeShared += len(targets)
		s.metricsMu.Unlock()
	}
	return nil
}

// RequestFlow queries the store by category, tag, or free-text token match
// over content, bundles the results, and emits one delivery event per
// target agent.
func (s *Store) RequestFlow(ctx context.Context, source string, targets []string, query string) []*Entry {
	results := s.query(query)

	bundle := core.List(entrySummaries(results)...)
	for _, target := range targets {
		s.cfg.Bus.Publish(ctx, "knowledge.flow."+target, core.Map(map[string]core.Value{
			"source": core.String(source),
			"target": core.String(target),
			"bundle": bundle,
		}))
	}

	s.metricsMu.Lock()
	s.metrics.RequestsFulfilled++
	s.metricsMu.Unlock()
	return results
}

// GetFlowMetrics returns a snapshot of cumulative flow activity.
func (s *Store) GetFlowMetrics() FlowMetrics {
	s.metricsMu.Lock()
	snapshot := s.metrics
	s.metricsMu.Unlock()
	return snapshot
}

// query matches by exact category, exact tag, or a free-text token
// contained in content (case-insensitive substring).
func (s *Store) query(q string) []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lower := strings.ToLower(q)
	var out []*Entry
	for _, e := range s.entries {
		if e.Category == q || containsString(e.Tags, q) || strings.Contains(strings.ToLower(e.Content), lower) {
			out = append(out, e.snapshot())
		}
	}
	return out
}

func (s *Store) deliver(ctx context.Context, agentID, entryID string, entry *Entry) {
	defer func() {
		if r := recover(); r != nil {
			s.cfg.Logger.Error("knowledge delivery panicked", map[string]interface{}{"agent_id": agentID, "entry_id": entryID, "panic": r})
		}
	}()
	s.cfg.Bus.Publish(ctx, "knowledge.new", core.Map(map[string]core.Value{
		"agent_id": core.String(agentID),
		"entry_id": core.String(entryID),
		"category": core.String(entry.Category),
	}))
}

func (s *Store) audit(ctx context.Context, eventType, actor, target string) {
	if s.cfg.AuditLog == nil {
		return
	}
	if err := s.cfg.AuditLog.Append(ctx, eventType, core.Map(map[string]core.Value{
		"actor":  core.String(actor),
		"target": core.String(target),
	})); err != nil {
		s.cfg.Logger.Warn("audit log append failed", map[string]interface{}{"event": eventType, "error": err.Error()})
	}
}

func (e *Entry) snapshot() *Entry {
	cp := *e
	cp.Tags = append([]string(nil), e.Tags...)
	return &cp
}

func containsString(ss []string, target string) bool {
	for _, s := range ss {
		if s == target {
			return true
		}
	}
	return false
}

func entrySummaries(entries []*Entry) []core.Value {
	out := make([]core.Value, len(entries))
	for i, e := range entries {
		out[i] = core.Map(map[string]core.Value{
			"entry_id": core.String(e.EntryID),
			"category": core.String(e.Category),
			"content":  core.String(e.Content),
		})
	}
	return out
}
