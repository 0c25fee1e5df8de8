// Package httputil provides the middleware the health and metrics server
// is wrapped in: request-ID tagging, structured request logging, and panic
// recovery.
package httputil
