// Package server provides the local HTTP callback used to authorize trackx against the remote tracker.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
// [RequestLogger] is the only middleware in use.
//
// The [BasicRouter] implementation uses [http.ServeMux] internally with method filtering.
//
// # OAuth Callback Handler
//
// [OAuthHandler] implements the OAuth2 authorization code callback flow.
//
// The handler validates the state parameter, exchanges the authorization code through a [CodeExchanger],
// and sends the resulting grant through a channel. It only processes one callback.
//
// # Callback Server
//
// When the user runs "trackx auth login", a [CallbackServer] starts on the configured host and port,
// handles the redirect, and shuts down after [OAuthHandler.Wait] returns.
package server
