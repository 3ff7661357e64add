// Package sitemap writes sitemap.xml for the rendered HTML documents.
package sitemap

import (
	"bytes"
	"context"
	"encoding/xml"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	perrors "github.com/kohki-shikata/psbg-boilerplate/internal/errors"
	"github.com/kohki-shikata/psbg-boilerplate/internal/fsutil"
)

// FileName is the sitemap written to the output root.
const FileName = "sitemap.xml"

// Namespace is the sitemap protocol XML namespace.
const Namespace = "http://www.sitemaps.org/schemas/sitemap/0.9"

// URLSet is the sitemap document root.
type URLSet struct {
	XMLName xml.Name `xml:"urlset"`
	Xmlns   string   `xml:"xmlns,attr"`
	URLs    []URL    `xml:"url"`
}

// URL is one sitemap entry.
type URL struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod,omitempty"`
}

// Build collects an entry for every HTML file below htmlDir. Entries are
// sorted by location.
func Build(ctx context.Context, htmlDir, rootURL string) (URLSet, error) {
	set := URLSet{Xmlns: Namespace}

	files, err := fsutil.Glob(htmlDir, "**/*.html")
	if err != nil {
		return set, err
	}

	base := strings.TrimSuffix(rootURL, "/") + "/"
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return set, err
		}
		info, err := os.Stat(filepath.Join(htmlDir, filepath.FromSlash(rel)))
		if err != nil {
			return set, perrors.FileError("stat", rel, err).WithStage("sitemap")
		}
		set.URLs = append(set.URLs, URL{
			Loc:     base + escapePath(rel),
			LastMod: info.ModTime().UTC().Format(time.RFC3339),
		})
	}

	sort.Slice(set.URLs, func(i, j int) bool { return set.URLs[i].Loc < set.URLs[j].Loc })
	return set, nil
}

// escapePath percent-encodes each segment of the slash separated rel.
func escapePath(rel string) string {
	segments := strings.Split(rel, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

// Marshal encodes set with the XML declaration.
func Marshal(set URLSet) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(set); err != nil {
		return nil, perrors.NewBuildError(perrors.ErrCodeSitemapFailed, "failed to encode sitemap", err).WithStage("sitemap")
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Write builds the sitemap for htmlDir and writes it to <destRoot>/sitemap.xml.
// It returns the number of entries.
func Write(ctx context.Context, htmlDir, destRoot, rootURL string) (int, error) {
	set, err := Build(ctx, htmlDir, rootURL)
	if err != nil {
		return 0, err
	}
	data, err := Marshal(set)
	if err != nil {
		return 0, err
	}
	if err := fsutil.WriteFile(filepath.Join(destRoot, FileName), data); err != nil {
		return 0, err
	}
	return len(set.URLs), nil
}
