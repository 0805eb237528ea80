package apiclient

import "fmt"

// User-facing messages, selected centrally so every call site surfaces the
// same wording the mobile builds used.
const (
	msgSessionExpired    = "Your session has expired. Please login again."
	msgNoPermission      = "You don't have permission to access this resource."
	msgInvalidToken      = "Invalid token. Please login again."
	msgServerUnavailable = "Server is temporarily unavailable. Please try again later."
	msgNetworkError      = "Network error. Please check your connection and try again."
	msgServerError       = "Server error. Please try again later."
	msgDefaultError      = "Something went wrong!"
)

// invalidTokenMessage is the backend's body message that makes a 400 an
// auth failure.
const invalidTokenMessage = "Invalid Token"

// Kind classifies a failed call. Classification is derived once per failure
// and drives all downstream behavior.
type Kind int

const (
	// KindAuth covers 401, 403, and 400 with an "Invalid Token" body.
	// Unrecoverable locally; always surfaced via forced logout.
	KindAuth Kind = iota + 1

	// KindServerUnavailable covers 502 and 503. Surfaced via the
	// server-down signal; never logs the user out.
	KindServerUnavailable

	// KindNetwork covers transport failures with no response. Recovered
	// locally via retry; surfaced only after exhaustion.
	KindNetwork

	// KindServer covers remaining 5xx statuses. Surfaced and forces
	// logout; see the classification note in classify.
	KindServer

	// KindBusiness covers remaining 4xx statuses. Surfaced to the
	// caller, optionally toasted, never forces logout.
	KindBusiness
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindServerUnavailable:
		return "server-unavailable"
	case KindNetwork:
		return "network"
	case KindServer:
		return "server"
	case KindBusiness:
		return "business"
	default:
		return "unknown"
	}
}

// Classification is the outcome of inspecting a failed response. It is
// immutable after creation.
type Classification struct {
	Kind    Kind
	Status  int
	Message string
}

// classifyResponse maps an error response to a Classification following a
// deterministic precedence. The 404-with-success case and the no-response
// (network) case are handled before this point.
func classifyResponse(status int, env envelope) Classification {
	switch {
	case status == 401:
		return Classification{Kind: KindAuth, Status: status, Message: msgSessionExpired}
	case status == 403:
		return Classification{Kind: KindAuth, Status: status, Message: msgNoPermission}
	case status == 400 && env.Message == invalidTokenMessage:
		return Classification{Kind: KindAuth, Status: status, Message: msgInvalidToken}
	case status == 502 || status == 503:
		return Classification{Kind: KindServerUnavailable, Status: status, Message: msgServerUnavailable}
	case status >= 500:
		// NOTE: flagged for product clarification. A plain 5xx forces a
		// logout even though the fault is server-side; the mobile builds
		// shipped this behavior and callers depend on it.
		return Classification{Kind: KindServer, Status: status, Message: msgServerError}
	default:
		message := env.Message
		if message == "" {
			message = msgDefaultError
		}
		return Classification{Kind: KindBusiness, Status: status, Message: message}
	}
}

// APIError is the structured rejection returned for every failed call. Call
// sites always receive this shape, never the raw transport error.
type APIError struct {
	Message     string `json:"message"`
	Status      int    `json:"status"`
	IsAuthError bool   `json:"isAuthError"`

	// RetryCount and CanRetry are populated for network failures only.
	RetryCount int  `json:"retryCount,omitempty"`
	CanRetry   bool `json:"canRetry,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
}
