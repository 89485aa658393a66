package contracts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hilthontt/socialbook/internal/infrastructure/validate"
)

// ErrMalformedPayload marks a message body that can never be processed, no matter how often it is redelivered.
var ErrMalformedPayload = errors.New("malformed payload")

// Event is a decoded message body, tagged by the routing key it travels under.
type Event interface {
	RoutingKey() string
}

type ReviewCreated struct {
	User      string  `json:"user,omitempty"`
	Book      string  `json:"book,omitempty"`
	Rating    float64 `json:"rating,omitempty"`
	Review    string  `json:"review,omitempty"`
	Status    string  `json:"status,omitempty"`
	CreatedAt string  `json:"created_at,omitempty"`
	CoverURL  string  `json:"coverUrl,omitempty"`
}

func (ReviewCreated) RoutingKey() string { return EventReviewCreated }

func (e ReviewCreated) Validate() error {
	return validate.All(
		validate.Field("user", validate.Username())(e.User),
		validate.Field("book", validate.Required())(e.Book),
	)
}

// ReviewCommented is published when someone comments on (or replies under) a review.
// TargetUser is the review or comment author who should be notified.
type ReviewCommented struct {
	TargetUser string `json:"targetUser,omitempty"`
	User       string `json:"user,omitempty"`
	Message    string `json:"message,omitempty"`
	ReviewID   string `json:"reviewId,omitempty"`
	CommentID  string `json:"commentId,omitempty"`
}

func (ReviewCommented) RoutingKey() string { return EventReviewCommented }

func (e ReviewCommented) Validate() error {
	return validate.All(
		validate.Field("targetUser", validate.Optional(validate.Username()))(e.TargetUser),
		validate.Field("user", validate.Username())(e.User),
		validate.Field("reviewId", validate.Required())(e.ReviewID),
	)
}

type ImportRequested struct {
	Query       string `json:"query"`
	Source      string `json:"source,omitempty"`
	RequestedBy string `json:"requestedBy,omitempty"`
}

func (ImportRequested) RoutingKey() string { return EventImportRequested }

func (e ImportRequested) Validate() error {
	return validate.Field("query", validate.Required(), validate.MaxLength(512))(e.Query)
}

// Raw carries the body of a routing key outside the known vocabulary.
type Raw struct {
	Key    string
	Fields map[string]any
}

func (r Raw) RoutingKey() string { return r.Key }

// Decode parses body according to routingKey. Bodies that are not a JSON object
// fail with an error wrapping ErrMalformedPayload.
func Decode(routingKey string, body []byte) (Event, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: body is not a JSON object", ErrMalformedPayload)
	}

	switch routingKey {
	case EventReviewCreated:
		var e ReviewCreated
		return decodeInto(trimmed, &e)
	case EventReviewCommented:
		var e ReviewCommented
		return decodeInto(trimmed, &e)
	case EventImportRequested:
		var e ImportRequested
		return decodeInto(trimmed, &e)
	default:
		return DecodeRaw(routingKey, trimmed)
	}
}

// DecodeRaw parses body as an untyped JSON object. Field types are not checked,
// so any well-formed object decodes.
func DecodeRaw(routingKey string, body []byte) (Raw, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Raw{}, fmt.Errorf("%w: body is not a JSON object", ErrMalformedPayload)
	}
	fields := map[string]any{}
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return Raw{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return Raw{Key: routingKey, Fields: fields}, nil
}

// DecodeCommented parses a review.commented body regardless of the routing key it arrived with.
func DecodeCommented(body []byte) (ReviewCommented, error) {
	var e ReviewCommented
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return e, fmt.Errorf("%w: body is not a JSON object", ErrMalformedPayload)
	}
	if err := json.Unmarshal(trimmed, &e); err != nil {
		return e, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return e, nil
}

func decodeInto[T Event](body []byte, dst *T) (Event, error) {
	if err := json.Unmarshal(body, dst); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return *dst, nil
}
