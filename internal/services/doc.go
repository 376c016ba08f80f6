// Package services holds the error taxonomy and context plumbing shared by
// every external collaborator client (processing services, object storage)
// and by the workflow manager's failure classification.
package services
