// Package handlers provides the HTTP API: movie listing, screenshot
// generation, cancellation, progress, sync, gallery reads and image bytes,
// library scans, and health checks.
//
// Errors map to statuses in one place (statusFor): invalid input is 400,
// unknown ids are 404, a running scan is 409, an unreadable video is 422 and
// anything else is 500 with the detail kept in the server log. Responses
// carry screenshot ids and image URLs, never filesystem paths.
package handlers
