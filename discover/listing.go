// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package discover

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/poiesic/regdex/core"
)

// ListingConfig describes how to read a regulator's circular listing
// page. Selectors are standard CSS.
type ListingConfig struct {
	// URL is the listing page.
	URL string

	// RowSelector matches one circular per element.
	RowSelector string

	// LinkSelector matches the anchor to the PDF inside a row.
	LinkSelector string

	// TitleSelector matches the circular title inside a row.
	TitleSelector string

	// DateSelector matches the issue date inside a row. Optional.
	DateSelector string

	// DateFormat is the time.Parse layout of the listed dates.
	// Optional; unparsed dates are kept verbatim.
	DateFormat string

	// Language is the OCR language hint stamped on every candidate,
	// e.g. "ben+eng". Optional.
	Language string
}

// ListingFeed crawls an HTML listing page and extracts one candidate
// per row.
type ListingFeed struct {
	client *http.Client
	cfg    ListingConfig
}

// NewListingFeed wires an HTTP client; a nil client gets a default with
// a 20 second timeout.
func NewListingFeed(client *http.Client, cfg ListingConfig) *ListingFeed {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &ListingFeed{client: client, cfg: cfg}
}

// Name identifies the feed.
func (l *ListingFeed) Name() string {
	return "listing:" + l.cfg.URL
}

// Discover fetches the listing page and extracts candidates. Rows
// without a usable PDF link are skipped; duplicate IDs keep the first
// occurrence.
func (l *ListingFeed) Discover(ctx context.Context) ([]*core.DocumentRecord, error) {
	doc, err := l.fetchDocument(ctx, l.cfg.URL)
	if err != nil {
		return nil, err
	}

	base, err := url.Parse(l.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid listing url %s: %w", l.cfg.URL, err)
	}

	var records []*core.DocumentRecord
	seen := map[string]struct{}{}

	doc.Find(l.cfg.RowSelector).Each(func(i int, row *goquery.Selection) {
		record, ok := l.parseRow(row, base)
		if !ok {
			return
		}
		if _, dup := seen[record.Id]; dup {
			return
		}
		seen[record.Id] = struct{}{}
		records = append(records, record)
	})

	return records, nil
}

func (l *ListingFeed) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "regdex/1.0")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request listing: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}
	return doc, nil
}

func (l *ListingFeed) parseRow(row *goquery.Selection, base *url.URL) (*core.DocumentRecord, bool) {
	link := row.Find(l.cfg.LinkSelector).First()
	href, exists := link.Attr("href")
	if !exists || href == "" {
		return nil, false
	}

	ref, err := url.Parse(href)
	if err != nil {
		return nil, false
	}
	sourceURL := base.ResolveReference(ref).String()

	id := documentID(ref.Path)
	if id == "" {
		return nil, false
	}

	metadata := map[string]string{}
	if l.cfg.TitleSelector != "" {
		if title := strings.TrimSpace(row.Find(l.cfg.TitleSelector).First().Text()); title != "" {
			metadata["title"] = title
		}
	}
	if l.cfg.DateSelector != "" {
		if date := strings.TrimSpace(row.Find(l.cfg.DateSelector).First().Text()); date != "" {
			metadata["date"] = l.normalizeDate(date)
		}
	}

	return &core.DocumentRecord{
		Id:        id,
		SourceURL: sourceURL,
		Metadata:  metadata,
		Language:  l.cfg.Language,
	}, true
}

// normalizeDate reparses listed dates into ISO form when a layout is
// configured, so metadata hashing does not churn on formatting.
func (l *ListingFeed) normalizeDate(date string) string {
	if l.cfg.DateFormat == "" {
		return date
	}
	parsed, err := time.Parse(l.cfg.DateFormat, date)
	if err != nil {
		return date
	}
	return parsed.Format("2006-01-02")
}

// documentID derives the stable ID from the PDF path, the filename stem.
func documentID(linkPath string) string {
	stem := strings.TrimSuffix(path.Base(linkPath), path.Ext(linkPath))
	return strings.TrimSpace(stem)
}
