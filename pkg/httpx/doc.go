/*
Package httpx is the shared HTTP client for all outbound calls.

Request and RequestJSON wrap the standard client with the defaults every
caller wants: a user agent, per-request timeouts, and a structured *Error
carrying the operation name, status code, correlation id and a truncated
response body for non-2xx answers.
*/
package httpx
