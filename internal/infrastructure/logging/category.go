package logging

type Category string
type SubCategory string
type ExtraKey string

const (
	General    Category = "General"
	IO         Category = "IO"
	Internal   Category = "Internal"
	RabbitMQ   Category = "RabbitMQ"
	MongoDB    Category = "MongoDB"
	SMTP       Category = "SMTP"
	Identity   Category = "Identity"
	Validation Category = "Validation"
	Prometheus Category = "Prometheus"
)

const (
	// General
	Startup         SubCategory = "Startup"
	Shutdown        SubCategory = "Shutdown"
	ExternalService SubCategory = "ExternalService"

	// RabbitMQ
	Topology  SubCategory = "Topology"
	Publish   SubCategory = "Publish"
	Consume   SubCategory = "Consume"
	Reconnect SubCategory = "Reconnect"

	// Persistence
	Insert SubCategory = "Insert"
	Select SubCategory = "Select"
	Update SubCategory = "Update"

	// Delivery
	SendEmail  SubCategory = "SendEmail"
	LookupUser SubCategory = "LookupUser"
)

const (
	AppName      ExtraKey = "AppName"
	LoggerName   ExtraKey = "Logger"
	Queue        ExtraKey = "Queue"
	Exchange     ExtraKey = "Exchange"
	RoutingKey   ExtraKey = "RoutingKey"
	MessageID    ExtraKey = "MessageID"
	Redelivered  ExtraKey = "Redelivered"
	RetryCount   ExtraKey = "RetryCount"
	Payload      ExtraKey = "Payload"
	Reason       ExtraKey = "Reason"
	State        ExtraKey = "State"
	RetryIn      ExtraKey = "RetryIn"
	TargetUser   ExtraKey = "TargetUser"
	Recipient    ExtraKey = "Recipient"
	Latency      ExtraKey = "Latency"
	Address      ExtraKey = "Address"
	Database     ExtraKey = "Database"
	Method       ExtraKey = "Method"
	Path         ExtraKey = "Path"
	Status       ExtraKey = "Status"
	ErrorMessage ExtraKey = "ErrorMessage"
)
