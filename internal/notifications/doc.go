// Package notifications sends run outcome alerts to an ntfy topic.
//
// NewService returns a no-op implementation when no topic is configured, so
// callers publish unconditionally. Delivery failures are returned to the
// caller, which logs them; a failed alert never fails an encode.
package notifications
