// Package project lays out the artifacts of one harvested site on top of a
// crawler.ArtifactStore:
//
//	urls.csv
//	content/{idx}_{name}.json and .md
//	logs/extraction_progress.json
//	logs/ai_requests.jsonl
//	company_data.json
//	failed_urls.json
//	project.json
package project
