// Package middleware provides HTTP middleware for W3C access logging with
// request ids, Prometheus request metrics and gzip compression of JSON
// responses.
package middleware
