package knowledge

// Subscription routes entries in given categories to one agent, filtered
// by tag/metadata match. An inactive subscription never receives
// deliveries.
type Subscription struct {
	SubscriptionID string
	AgentID        string
	Categories     []string
	Tags           []string
	Filters        map[string]string
	Active         bool
}

func (s *Subscription) matches(e *Entry) bool {
	if !s.Active {
		return false
	}
	if !hasAllTags(e.Tags, s.Tags) {
		return false
	}
	return matchesFilters(e.Metadata, s.Filters)
}
