package har

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
)

var nulEscape = regexp.MustCompile(`(\\)+u0000`)

// StripContent removes response bodies from every entry of a HAR log and
// drops escaped NUL characters, which some databases refuse in JSON text.
// Fields it does not know about are preserved. Both a bare log and a
// {"log": ...} document are accepted.
func StripContent(data []byte) ([]byte, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("har: strip: %w", err)
	}
	log := doc
	if inner, ok := doc["log"].(map[string]any); ok {
		log = inner
	}
	if entries, ok := log["entries"].([]any); ok {
		for _, e := range entries {
			entry, ok := e.(map[string]any)
			if !ok {
				continue
			}
			resp, ok := entry["response"].(map[string]any)
			if !ok {
				continue
			}
			if content, ok := resp["content"].(map[string]any); ok {
				delete(content, "text")
			}
		}
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("har: strip: %w", err)
	}
	if bytes.Contains(out, []byte(`\u0000`)) {
		out = nulEscape.ReplaceAll(out, nil)
	}
	return out, nil
}

// FirstPageTitle returns the title of the first page, usually its URL.
func FirstPageTitle(log json.RawMessage) string {
	var probe struct {
		Log *struct {
			Pages []struct {
				Title string `json:"title"`
			} `json:"pages"`
		} `json:"log"`
		Pages []struct {
			Title string `json:"title"`
		} `json:"pages"`
	}
	if json.Unmarshal(log, &probe) != nil {
		return ""
	}
	pages := probe.Pages
	if probe.Log != nil {
		pages = probe.Log.Pages
	}
	if len(pages) == 0 {
		return ""
	}
	return pages[0].Title
}
