package replay

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// fingerprint reduces a page to a hash of its element structure. Text
// nodes are ignored so tickers and clocks do not keep the page "busy".
func fingerprint(pageHTML string) (string, error) {
	doc, err := html.Parse(strings.NewReader(pageHTML))
	if err != nil {
		return "", fmt.Errorf("failed to parse page: %w", err)
	}

	h := sha256.New()
	var walk func(n *html.Node, depth int)
	walk = func(n *html.Node, depth int) {
		if n.Type == html.ElementNode {
			fmt.Fprintf(h, "%d:%s", depth, n.Data)
			for _, attr := range n.Attr {
				if attr.Key == "id" || attr.Key == "class" {
					fmt.Fprintf(h, ";%s=%s", attr.Key, attr.Val)
				}
			}
			h.Write([]byte{'\n'})
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, depth+1)
		}
	}
	walk(doc, 0)

	return hex.EncodeToString(h.Sum(nil)), nil
}

// waitSettled samples the page structure until two consecutive samples
// match or the deadline expires. An unsettled page is not an error; the
// step proceeds against the last observed state.
func (e *Engine) waitSettled(ctx context.Context) {
	deadline := time.Now().Add(e.opts.SettleDeadline)

	var prev string
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(e.opts.SettleInterval):
		}

		pageHTML, err := e.driver.PageHTML(ctx)
		if err != nil {
			return
		}
		fp, err := fingerprint(pageHTML)
		if err != nil {
			return
		}
		if prev != "" && fp == prev {
			return
		}
		prev = fp
	}
}
