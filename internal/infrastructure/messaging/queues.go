package messaging

const (
	EventsExchange     = "socialbook.events"
	DeadLetterExchange = "socialbook.dlx"
)

const (
	NotificationsQueue        = "socialbook.notifications"
	RecommendationsQueue      = "socialbook.recommendations"
	ImportsQueue              = "socialbook.imports"
	FeedFanoutQueue           = "socialbook.feed-fanout"
	CommentNotificationsQueue = "socialbook.comment-notifications"
	CommentEmailsQueue        = "socialbook.comment-emails"
	DeadLetterQueue           = "socialbook.dead-letter"
)

// Headers the runtime sets on messages it republishes for a bounded retry.
const (
	RetryCountHeader         = "x-retry-count"
	OriginalRoutingKeyHeader = "x-original-routing-key"
)
