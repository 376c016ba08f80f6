// Command stemfuse is the operator CLI for the fusion pipeline. It shares the
// daemon's SQLite database and Redis queues directly, so it works whether or
// not stemfused is running.
package main
