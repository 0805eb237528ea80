package notify

import "context"

// Message is a push delivered by the transport. ID is the provider-assigned
// correlation identifier used to detect duplicate delivery.
type Message struct {
	ID    string
	Title string
	Body  string
	Data  map[string]interface{}
}

// Transport is the push-delivery boundary. Implementations bridge a
// provider's permission/token/topic primitives. Listener registrations
// return an unsubscribe function so the owner controls lifecycle
// explicitly: attach at init, detach at feature-disable.
type Transport interface {
	// RequestPermission asks the platform for delivery permission.
	RequestPermission(ctx context.Context) (bool, error)

	// Token returns the current device token.
	Token(ctx context.Context) (string, error)

	// OnTokenRefresh registers a callback invoked whenever the provider
	// rotates the device token.
	OnTokenRefresh(fn func(token string)) (func(), error)

	// OnMessage registers the foreground message callback.
	OnMessage(fn func(Message)) (func(), error)

	// SetBackgroundHandler registers the background/killed-state message
	// callback.
	SetBackgroundHandler(fn func(Message)) (func(), error)

	// OnNotificationOpened registers a callback for notifications the
	// user tapped to resume the app.
	OnNotificationOpened(fn func(Message)) (func(), error)

	// InitialNotification returns the notification that launched the app
	// from a killed state, if any.
	InitialNotification(ctx context.Context) (*Message, error)

	// SubscribeTopic and UnsubscribeTopic manage named broadcast
	// channels.
	SubscribeTopic(ctx context.Context, topic string) error
	UnsubscribeTopic(ctx context.Context, topic string) error

	// DeleteToken invalidates the local device token.
	DeleteToken(ctx context.Context) error
}
