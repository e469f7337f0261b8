// Package fetch retrieves and classifies the public web content for a
// school: its homepage, staff and contact pages, linked documents and the
// latest inspection report.
package fetch

import (
	"context"
	"fmt"

	"github.com/protocol-education/school-intel/internal/model"
	"github.com/protocol-education/school-intel/internal/resilience"
)

// Link is an anchor found on an HTML page.
type Link struct {
	URL  string
	Text string
}

// Page is a fetched content unit plus the links it carried (HTML only).
type Page struct {
	Unit  model.ContentUnit
	Links []Link
}

// Fetcher retrieves one URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Page, error)
}

// FetchError means a source could not be retrieved or used.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	switch {
	case e.Status > 0:
		return fmt.Sprintf("fetch: %s: HTTP %d", e.URL, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("fetch: %s: %v", e.URL, e.Err)
	}
	return "fetch: " + e.URL
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt could succeed: a transient
// status, or a transport error such as a timeout or reset connection.
func (e *FetchError) Retryable() bool {
	if e.Status == 0 {
		return e.Err != nil && resilience.IsRetryable(e.Err)
	}
	return resilience.RetryableStatus(e.Status)
}
