// Package reaper sweeps expired and idle state on a fixed interval and
// prunes aged usage-log detail on a cron schedule.
package reaper
