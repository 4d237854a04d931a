/*
Package skufilter decides which SKUs the prerenderer processes.

A Filter evaluates rules in a fixed order (format constraints, deny list,
deny patterns, allow list, allow patterns) and returns the decision with
the stage and reason that produced it, so a skipped SKU is explainable
from the logs. Decisions are memoized in an LRU cache since the same SKUs
recur across journal batches.

ProductsOnly is the default preset: it drops test, temp, demo and sample
prefixes along with placeholder SKUs that show up in real catalogs.
*/
package skufilter
