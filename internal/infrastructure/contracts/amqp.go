package contracts

// Routing keys - the closed vocabulary published on the events exchange
const (
	EventReviewCreated   = "review.created"
	EventReviewCommented = "review.commented"
	EventImportRequested = "import.requested"
)

// RoutingKeys lists every routing key producers are allowed to publish.
var RoutingKeys = []string{
	EventReviewCreated,
	EventReviewCommented,
	EventImportRequested,
}

func IsKnownRoutingKey(key string) bool {
	for _, k := range RoutingKeys {
		if k == key {
			return true
		}
	}
	return false
}
