package index

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/net/html"

	"github.com/slipway-ci/slipway/internal/distcheck"
)

// Exists checks the simple index for a released file. project is the
// distribution name (normalized before lookup) and filename is the
// exact distribution file name. A project the index has never seen
// reports false without error.
func (c *Client) Exists(ctx context.Context, project, filename string) (bool, error) {
	url := strings.TrimSuffix(c.simpleURL, "/") + "/" + distcheck.NormalizeName(project) + "/"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create index request: %w", err)
	}
	req.Header.Set("Accept", "text/html")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("index request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, &StatusError{StatusCode: resp.StatusCode, Message: readServerMessage(resp.Body)}
	}

	files, err := parseSimpleProject(resp.Body)
	if err != nil {
		return false, err
	}

	for _, file := range files {
		if file == filename {
			return true, nil
		}
	}
	return false, nil
}

// parseSimpleProject lists the file names on a PEP 503 project page.
// The file name is the text of each anchor; hrefs carry hash fragments
// and arbitrary hosts, so they are ignored.
func parseSimpleProject(r io.Reader) ([]string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse project page: %w", err)
	}

	var files []string

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			if text := strings.TrimSpace(anchorText(n)); text != "" {
				files = append(files, text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return files, nil
}

// anchorText concatenates the text nodes under an anchor element.
func anchorText(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}
