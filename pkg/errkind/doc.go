/*
Package errkind defines the error taxonomy shared across the prerenderer.

Each type encodes a recovery class: validation and credential errors are
fatal to a run, batch errors are recovered locally by failing one admin
batch, global errors abort the run because admin-side state is unknown,
not-found and rate-limited are per-SKU ignorable. The Is* helpers classify
wrapped errors via errors.As so callers branch on class, not on message.
*/
package errkind
