/*
Package log provides structured logging over zerolog.

Init configures the global logger once (level, JSON or console output);
the With* helpers derive child loggers carrying the component, locale,
sku or operation field so every line is attributable without repeating
context at call sites.
*/
package log
