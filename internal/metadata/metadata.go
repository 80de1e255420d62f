// Package metadata fetches a page and extracts the bits linkstash
// stores alongside a saved URL: title, description, a preview image,
// and the favicon.
package metadata

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/linkstash/linkstash/internal/schema"
	"golang.org/x/net/html"
)

// maxBodyBytes bounds how much HTML we read looking for head tags.
const maxBodyBytes = 512 * 1024

// Metadata is what could be scraped from a page. Empty fields mean
// the page did not advertise that value.
type Metadata struct {
	Title       string
	Description string
	Image       string
	Favicon     string
	Type        schema.LinkType
}

// Fetcher retrieves page metadata over HTTP.
type Fetcher struct {
	client *http.Client
}

// NewFetcher creates a Fetcher. A nil client gets a 10s-timeout
// default.
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Fetcher{client: client}
}

// Fetch downloads the page at rawURL and scrapes its metadata. The
// link type is classified from the URL and the response content type,
// so non-HTML resources (images, videos, files) still get a sensible
// result even though they carry no scrapeable tags.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Metadata, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid url %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "text/html,*/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch %s: unexpected status %s", rawURL, resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	meta := &Metadata{Type: ClassifyURL(rawURL, contentType)}

	if !strings.Contains(contentType, "html") {
		meta.Title = fallbackTitle(u)
		return meta, nil
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", rawURL, err)
	}

	scrape(doc, meta)
	if meta.Title == "" {
		meta.Title = fallbackTitle(u)
	}
	meta.Image = resolveRef(u, meta.Image)
	if meta.Favicon == "" {
		meta.Favicon = "/favicon.ico"
	}
	meta.Favicon = resolveRef(u, meta.Favicon)
	return meta, nil
}

// scrape walks the parse tree collecting title, meta and link tags.
func scrape(n *html.Node, meta *Metadata) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "title":
			if meta.Title == "" && n.FirstChild != nil {
				meta.Title = strings.TrimSpace(n.FirstChild.Data)
			}
		case "meta":
			scrapeMeta(n, meta)
		case "link":
			scrapeLink(n, meta)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		scrape(c, meta)
	}
}

func scrapeMeta(n *html.Node, meta *Metadata) {
	var name, content string
	for _, a := range n.Attr {
		switch a.Key {
		case "name", "property":
			name = strings.ToLower(a.Val)
		case "content":
			content = strings.TrimSpace(a.Val)
		}
	}
	if content == "" {
		return
	}
	switch name {
	case "og:title":
		meta.Title = content
	case "description", "og:description":
		if meta.Description == "" || name == "og:description" {
			meta.Description = content
		}
	case "og:image", "twitter:image":
		if meta.Image == "" {
			meta.Image = content
		}
	case "og:video", "og:video:url":
		meta.Type = schema.LinkTypeVideo
	}
}

func scrapeLink(n *html.Node, meta *Metadata) {
	var rel, href string
	for _, a := range n.Attr {
		switch a.Key {
		case "rel":
			rel = strings.ToLower(a.Val)
		case "href":
			href = strings.TrimSpace(a.Val)
		}
	}
	if href == "" {
		return
	}
	if strings.Contains(rel, "icon") && meta.Favicon == "" {
		meta.Favicon = href
	}
}

// resolveRef makes a possibly-relative reference absolute against the
// page URL.
func resolveRef(base *url.URL, ref string) string {
	if ref == "" {
		return ""
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return base.ResolveReference(r).String()
}

func fallbackTitle(u *url.URL) string {
	if i := strings.LastIndex(u.Path, "/"); i >= 0 && i+1 < len(u.Path) {
		return u.Path[i+1:]
	}
	return u.Host
}

var (
	imageExts = []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg", ".bmp", ".ico", ".avif"}
	videoExts = []string{".mp4", ".webm", ".mov", ".mkv", ".avi", ".m3u8"}
	fileExts  = []string{".pdf", ".zip", ".tar", ".gz", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx", ".csv", ".epub"}

	videoHosts = []string{"youtube.com", "youtu.be", "vimeo.com", "twitch.tv", "dailymotion.com"}
)

// ClassifyURL maps a URL (and optionally a Content-Type) to a link
// type. Unknown inputs classify as "other".
func ClassifyURL(rawURL, contentType string) schema.LinkType {
	ct := strings.ToLower(contentType)
	switch {
	case strings.HasPrefix(ct, "image/"):
		return schema.LinkTypeImage
	case strings.HasPrefix(ct, "video/"):
		return schema.LinkTypeVideo
	case strings.HasPrefix(ct, "application/pdf"),
		strings.HasPrefix(ct, "application/zip"),
		strings.HasPrefix(ct, "application/octet-stream"):
		return schema.LinkTypeFile
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return schema.LinkTypeOther
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	for _, h := range videoHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return schema.LinkTypeVideo
		}
	}

	path := strings.ToLower(u.Path)
	for _, ext := range imageExts {
		if strings.HasSuffix(path, ext) {
			return schema.LinkTypeImage
		}
	}
	for _, ext := range videoExts {
		if strings.HasSuffix(path, ext) {
			return schema.LinkTypeVideo
		}
	}
	for _, ext := range fileExts {
		if strings.HasSuffix(path, ext) {
			return schema.LinkTypeFile
		}
	}
	return schema.LinkTypeOther
}
