// Package ai adapts an OpenAI-compatible chat completions endpoint to the
// crawler.Extractor and crawler.Labeler contracts. One Client is shared by all
// jobs so its circuit breaker sees every call; Extractor and Labeler are cheap
// per-job wrappers that carry the job's request log.
package ai
