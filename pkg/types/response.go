package types

// SuccessEnvelope wraps successful API payloads.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// ErrorEnvelope wraps error API payloads.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// APIError is the public error body.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// WebhookAck is the body returned to the payment provider for every webhook
// delivery, accepted or ignored. The provider never retries on received=false.
type WebhookAck struct {
	Received bool `json:"received"`
}
