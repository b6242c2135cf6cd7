package extract

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/site-harvester/internal/crawler"
)

// Markdown renders a human-readable copy of a successful result.
func Markdown(r crawler.FetchResult) []byte {
	var b bytes.Buffer
	title := r.Metadata.Title
	if title == "" {
		title = "Untitled"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "**URL:** %s\n\n", r.URL)
	fmt.Fprintf(&b, "**Extracted:** %s\n\n", r.Metadata.ExtractedAt.Format(time.RFC3339))
	if r.Metadata.Description != "" {
		fmt.Fprintf(&b, "**Description:** %s\n\n", r.Metadata.Description)
	}

	contact := r.ContactInfo
	if len(contact.Emails) > 0 || len(contact.Phones) > 0 {
		b.WriteString("## Contact Information\n\n")
		if len(contact.Emails) > 0 {
			fmt.Fprintf(&b, "**Emails:** %s\n\n", strings.Join(contact.Emails, ", "))
		}
		if len(contact.Phones) > 0 {
			fmt.Fprintf(&b, "**Phones:** %s\n\n", strings.Join(contact.Phones, ", "))
		}
	}
	if len(contact.SocialLinks) > 0 {
		b.WriteString("**Social Links:**\n")
		for _, link := range contact.SocialLinks {
			fmt.Fprintf(&b, "- %s\n", link)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Content\n\n")
	b.WriteString(r.Content)
	b.WriteString("\n")
	return b.Bytes()
}
