// Package metrics keeps project counters in the shared cache.
//
// Counters are cumulative and stored in one hash per project, so every
// process of a project reports into the same numbers. They can be read with
// Stats, served as JSON with Handler or scraped through Collector.
// Measurements passed to Set are queued for telegraf in influx line
// protocol. Timeseries counts events per time bucket and keeps the last
// HoursToKeep hours.
package metrics
