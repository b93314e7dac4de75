package events

// Topics emitted for buyback list mutations.
const (
	TopicItemAdded   = "buyback.item_added"
	TopicItemUpdated = "buyback.item_updated"
	TopicItemRemoved = "buyback.item_removed"
	TopicCleared     = "buyback.cleared"
)

// DefaultTopics returns every topic in emission order of a typical session.
func DefaultTopics() []string {
	return []string{TopicItemAdded, TopicItemUpdated, TopicItemRemoved, TopicCleared}
}

// TopicFor maps a change kind such as "item_added" to its topic.
func TopicFor(kind string) string {
	return "buyback." + kind
}
