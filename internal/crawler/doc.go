// Package crawler holds the shared vocabulary of the harvester: job and page
// types, the collaborator interfaces, URL normalization, the skip filter, the
// retry policy, and the per-job cancellation state.
package crawler
