// Package scheduler maps script schedules to live cron entries.
//
// Registry owns the key -> cron entry mapping. Controller is the only caller
// of Registry mutators: it rebuilds the registry from the stores, applies the
// global and per-script switches and runs allowed firings through a
// supervisor so a long script never delays other due jobs.
package scheduler
