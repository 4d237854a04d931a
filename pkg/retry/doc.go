/*
Package retry wraps retry-go with the module's conventions: bounded
attempts, linear backoff (delay × attempt), context cancellation, and a
warning log per retry tagged with the operation name.
*/
package retry
