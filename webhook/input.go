package webhook

// Input is the creation/update payload for webhooks.
type Input struct {
	// OwnerID identifies the user registering this webhook.
	OwnerID string `json:"owner_id"`

	// URL is the delivery URL.
	URL string `json:"url"`

	// Secret is the HMAC signing secret. Auto-generated if empty on create.
	Secret string `json:"secret"`

	// Events is the set of event type names to subscribe to.
	Events []string `json:"events"`

	// Headers are custom HTTP headers sent with each delivery.
	Headers map[string]string `json:"headers,omitempty"`

	// Metadata holds user-defined key-value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`
}
