/*
Package metrics defines the Prometheus instrumentation surface.

Counters and gauges cover runs, journal events, renders by outcome, admin
batches by stage and result, published and unpublished pages, rate-limit
denials and queue depth. Register installs them on the default registry
and Handler serves the scrape endpoint for the loop command.
*/
package metrics
