// Package retention prunes evidence records by age and by count.
//
// Pruner.Prune runs both phases once; Scheduler runs Prune on a cron
// expression (robfig/cron standard syntax, e.g. "0 3 * * *"). Records can
// be archived as JSON before deletion.
package retention
