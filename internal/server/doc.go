// Package server exposes the dataset and job ledger over HTTP.
//
// Routes are registered on a [BasicRouter] wrapping [http.ServeMux]. Every request passes through
// [RequestID], [Logging] and [Recover]; protected routes add [Authenticator.Require] with the roles they accept.
// Callers log in at POST /auth/login and send the returned token as "Authorization: Bearer <token>".
//
// Errors are JSON objects with a single "detail" field.
//
// Import and export jobs are recorded as queued and handed to a [queue.Queue]; the HTTP request never waits
// for Label Studio.
package server
