package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// OAuth flow
	RouteLogin    = "/login"
	RouteCallback = "/callback"

	// Session token lifecycle
	RouteInitialToken = "/initial-token"
	RouteRefresh      = "/refresh"
	RouteLogout       = "/logout"
	RouteStatus       = "/status"

	// Health
	RouteHealth = "/healthz"

	// Protected API
	RouteAPIMe    = "/api/me"
	RouteAPIToken = "/api/token"

	// Frontend paths the callback redirects to
	FrontendCallbackPath = "/callback"
)

// Headers
const (
	HeaderSessionID = "X-Session-ID"
	HeaderRequestID = "X-Request-ID"
)
