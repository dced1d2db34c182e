/*
Package metrics exposes Prometheus counters, gauges and histograms for
reservation admission and the per-node reconciler. Handler() serves them
for scraping; Timer times an operation and records it against a histogram.
*/
package metrics
