package audit

// ServerStarted records that the proxy began serving on addr.
func ServerStarted(s Sink, addr string, servers int) {
	s.Log(NewEvent(EventServerStart).WithDetails(map[string]any{"address": addr, "servers": servers}))
}

// ServerStopped records a clean shutdown.
func ServerStopped(s Sink) {
	s.Log(NewEvent(EventServerStop))
}

// AuthAttempt records the outcome of authenticating a request.
func AuthAttempt(s Sink, userID, clientIP, requestID string, success bool, reason string) {
	t := EventAuthSuccess
	if !success {
		t = EventAuthFailure
	}

	e := NewEvent(t).WithUser(userID).WithClientIP(clientIP).WithRequestID(requestID)
	if !success {
		e = e.WithError(reason)
	}
	s.Log(e)
}

// AuthorizationDenied records a request rejected by scope checks.
func AuthorizationDenied(s Sink, userID, clientIP, requestID, serverName, resource string) {
	s.Log(NewEvent(EventAuthorizationFailure).
		WithUser(userID).
		WithClientIP(clientIP).
		WithRequestID(requestID).
		WithServer(serverName).
		WithDetails(map[string]string{"resource": resource}).
		WithError("access denied"))
}

// Request records a forwarded JSON-RPC call and its outcome.
func Request(s Sink, userID, clientIP, requestID, serverName, method string, durationMS int64, errMsg string) {
	e := NewEvent(EventRequest).
		WithUser(userID).
		WithClientIP(clientIP).
		WithRequestID(requestID).
		WithServer(serverName).
		WithDetails(map[string]any{"method": method, "duration_ms": durationMS})
	if errMsg != "" {
		e = e.WithError(errMsg)
	}
	s.Log(e)
}

// RateLimited records a request rejected by the rate limiter.
func RateLimited(s Sink, clientIP, requestID string) {
	s.Log(NewEvent(EventRateLimitHit).WithClientIP(clientIP).WithRequestID(requestID).WithError("rate limit exceeded"))
}

// ConfigChanged records a configuration reload or edit.
func ConfigChanged(s Sink, userID, change string) {
	s.Log(NewEvent(EventConfigChange).WithUser(userID).WithDetails(map[string]string{"change": change}))
}

// SuspiciousActivity records something that looks like an attack or a leak, such as a secret in tool arguments.
func SuspiciousActivity(s Sink, userID, clientIP, requestID, serverName string, details any) {
	s.Log(NewEvent(EventSuspiciousActivity).
		WithUser(userID).
		WithClientIP(clientIP).
		WithRequestID(requestID).
		WithServer(serverName).
		WithDetails(details).
		WithError("suspicious activity"))
}
