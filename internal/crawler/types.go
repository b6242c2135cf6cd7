// Package crawler defines core types shared across subsystems.
package crawler

import (
	"net/http"
	"time"
)

// JobStatus represents the lifecycle state of a harvest job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// Terminal reports whether no further transitions follow this status.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCanceled:
		return true
	default:
		return false
	}
}

// JobParameters captures per-job configuration knobs requested by the client.
type JobParameters struct {
	BaseURL string `json:"base_url" mapstructure:"base_url"`
	// MaxURLs and MaxDepth tighten the configured discovery bounds when set.
	MaxURLs  int `json:"max_urls" mapstructure:"max_urls"`
	MaxDepth int `json:"max_depth" mapstructure:"max_depth"`
	// SkipHarvest stops the job after urls.csv has been written and labeled.
	SkipHarvest bool `json:"skip_harvest" mapstructure:"skip_harvest"`
}

// Job represents the metadata persisted for each submitted harvest request.
type Job struct {
	ID         string        `json:"id"`
	Status     JobStatus     `json:"status"`
	Submitted  time.Time     `json:"submitted_at"`
	Started    *time.Time    `json:"started_at,omitempty"`
	Finished   *time.Time    `json:"finished_at,omitempty"`
	ErrorText  string        `json:"error_text,omitempty"`
	Parameters JobParameters `json:"parameters"`
	Counters   JobCounters   `json:"counters"`
}

// JobCounters tracks per-job progress.
type JobCounters struct {
	URLsDiscovered  int `json:"urls_discovered"`
	URLsUseful      int `json:"urls_useful"`
	PagesSucceeded  int `json:"pages_succeeded"`
	PagesFailed     int `json:"pages_failed"`
	UnitsExtracted  int `json:"units_extracted"`
	ExtractFailures int `json:"extract_failures"`
}

// LinkContext is where on a page a link was found.
type LinkContext string

// Discovery contexts, in classification precedence order.
const (
	ContextNav      LinkContext = "nav"
	ContextFooter   LinkContext = "footer"
	ContextHomepage LinkContext = "homepage"
	ContextBody     LinkContext = "body"
	ContextSitemap  LinkContext = "sitemap"
)

// DiscoveredURL is one canonical URL found during discovery.
type DiscoveredURL struct {
	URL      string `json:"url"`
	Priority int    `json:"priority"`
	Depth    int    `json:"depth"`
}

// LabeledURL is a discovered URL plus its usefulness label.
type LabeledURL struct {
	DiscoveredURL
	// Useful is nil until the labeler has run for this row.
	Useful *bool `json:"is_useful,omitempty"`
}

// IsUseful reports the label, treating an unlabeled row as useful.
func (l LabeledURL) IsUseful() bool {
	return l.Useful == nil || *l.Useful
}

// PageRequest describes a raw page fetch.
type PageRequest struct {
	JobID       string
	URL         string
	UseHeadless bool
	Headers     http.Header
	Timeout     time.Duration
}

// Page is the raw response returned by a PageFetcher.
type Page struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// Metadata holds document-level page metadata.
type Metadata struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Keywords    string    `json:"keywords"`
	ExtractedAt time.Time `json:"extracted_at"`
}

// Heading is one h1-h6 element.
type Heading struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

// Link is an anchor found in the main content region.
type Link struct {
	Text string `json:"text"`
	Href string `json:"href"`
}

// ContactInfo holds regex-derived contact signals.
type ContactInfo struct {
	Emails      []string `json:"emails"`
	Phones      []string `json:"phones"`
	SocialLinks []string `json:"social_links"`
}

// FetchResult is the outcome of fetching and extracting one URL.
type FetchResult struct {
	URL         string      `json:"url"`
	Metadata    Metadata    `json:"metadata"`
	Content     string      `json:"content"`
	Headings    []Heading   `json:"headings"`
	Links       []Link      `json:"links"`
	ContactInfo ContactInfo `json:"contact_info"`
	WordCount   int         `json:"word_count"`
	Success     bool        `json:"success"`
	Error       string      `json:"error,omitempty"`
	Attempts    int         `json:"attempts"`
}

// FailureRecord is one entry of the failed URL side list.
type FailureRecord struct {
	URL      string `json:"url"`
	Error    string `json:"error"`
	Attempts int    `json:"attempts"`
}

// FetchRecord is persisted for each harvested URL.
type FetchRecord struct {
	JobID       string    `json:"job_id"`
	URL         string    `json:"url"`
	Success     bool      `json:"success"`
	Attempts    int       `json:"attempts"`
	ErrorText   string    `json:"error_text,omitempty"`
	ArtifactURI string    `json:"artifact_uri,omitempty"`
	ContentHash string    `json:"content_hash,omitempty"`
	WordCount   int       `json:"word_count"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// SocialLinks groups company social profiles.
type SocialLinks struct {
	LinkedIn  string   `json:"linkedin"`
	Twitter   string   `json:"twitter"`
	Facebook  string   `json:"facebook"`
	Instagram string   `json:"instagram"`
	YouTube   string   `json:"youtube"`
	Other     []string `json:"other"`
}

// Person is one individual associated with the company.
type Person struct {
	Name        string `json:"person_name"`
	Role        string `json:"person_role"`
	Email       string `json:"person_email"`
	Phone       string `json:"person_phone"`
	Description string `json:"person_description"`
}

// Snapshot is the accumulated company record folded over processed artifacts.
type Snapshot struct {
	CompanyName  string      `json:"company_name"`
	Email        string      `json:"company_email"`
	Location     string      `json:"company_location"`
	Phone        string      `json:"company_phone"`
	IndustryType string      `json:"company_industry_type"`
	SocialLinks  SocialLinks `json:"company_social_links"`
	Description  string      `json:"description"`
	Persons      []Person    `json:"company_persons"`
}

// NewSnapshot returns an empty snapshot with non-nil collections.
func NewSnapshot() Snapshot {
	return Snapshot{
		SocialLinks: SocialLinks{Other: []string{}},
		Persons:     []Person{},
	}
}

// Progress is the checkpoint persisted after each processed unit.
type Progress struct {
	LastUpdated       time.Time `json:"last_updated"`
	LastFileProcessed string    `json:"last_file_processed"`
	ProcessedUnits    int       `json:"processed_units"`
	Partial           bool      `json:"partial"`
	Data              Snapshot  `json:"data"`
}

// ArtifactNotice is published after an artifact is persisted.
type ArtifactNotice struct {
	JobID       string    `json:"job_id"`
	URL         string    `json:"url"`
	ArtifactURI string    `json:"artifact_uri"`
	WordCount   int       `json:"word_count"`
	PersistedAt time.Time `json:"persisted_at"`
}

// ProjectSummary is written as project.json at the end of each job.
type ProjectSummary struct {
	JobID      string      `json:"job_id"`
	BaseURL    string      `json:"base_url"`
	Status     JobStatus   `json:"status"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Counters   JobCounters `json:"counters"`
	ErrorText  string      `json:"error_text,omitempty"`
}

// Attributes returns message attributes used for subscription filtering.
func (n ArtifactNotice) Attributes() map[string]string {
	return map[string]string{
		"event":  "artifact.persisted",
		"job_id": n.JobID,
	}
}
