// Package logs provides bounded log file tailing for the CLI. ReadLast grabs
// the trailing lines of the daemon log, Follow polls for appended lines until
// the caller's context is cancelled.
package logs
