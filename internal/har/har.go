// Package har holds HTTP Archive types and the few inspections the relay
// needs on otherwise opaque HAR payloads.
package har

import (
	"context"
	"encoding/json"
)

const Version = "1.2"

type HAR struct {
	Log *Log `json:"log"`
}

type Log struct {
	Version string   `json:"version"`
	Creator Creator  `json:"creator"`
	Browser *Creator `json:"browser,omitempty"`
	Pages   []*Page  `json:"pages"`
	Entries []*Entry `json:"entries"`
}

type Creator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type Page struct {
	StartedDateTime string      `json:"startedDateTime"`
	ID              string      `json:"id"`
	Title           string      `json:"title"`
	PageTimings     PageTimings `json:"pageTimings"`
}

// PageTimings uses pointers so an unfired event serializes as null.
type PageTimings struct {
	OnContentLoad *float64 `json:"onContentLoad"`
	OnLoad        *float64 `json:"onLoad"`
}

type Entry struct {
	Pageref         string   `json:"pageref,omitempty"`
	StartedDateTime string   `json:"startedDateTime"`
	Time            float64  `json:"time"`
	Request         Request  `json:"request"`
	Response        Response `json:"response"`
	Cache           struct{} `json:"cache"`
	Timings         Timings  `json:"timings"`
	ServerIPAddress string   `json:"serverIPAddress,omitempty"`
	Connection      string   `json:"connection,omitempty"`
	ResourceType    string   `json:"_resourceType,omitempty"`
}

type Request struct {
	Method      string      `json:"method"`
	URL         string      `json:"url"`
	HTTPVersion string      `json:"httpVersion"`
	Cookies     []Cookie    `json:"cookies"`
	Headers     []NameValue `json:"headers"`
	QueryString []NameValue `json:"queryString"`
	PostData    *PostData   `json:"postData,omitempty"`
	HeadersSize int64       `json:"headersSize"`
	BodySize    int64       `json:"bodySize"`
}

type Response struct {
	Status      int64       `json:"status"`
	StatusText  string      `json:"statusText"`
	HTTPVersion string      `json:"httpVersion"`
	Cookies     []Cookie    `json:"cookies"`
	Headers     []NameValue `json:"headers"`
	Content     Content     `json:"content"`
	RedirectURL string      `json:"redirectURL"`
	HeadersSize int64       `json:"headersSize"`
	BodySize    int64       `json:"bodySize"`
}

type Content struct {
	Size        int64  `json:"size"`
	Compression int64  `json:"compression,omitempty"`
	MimeType    string `json:"mimeType"`
	Text        string `json:"text,omitempty"`
	Encoding    string `json:"encoding,omitempty"`
	Comment     string `json:"comment,omitempty"`
}

type NameValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Path     string `json:"path,omitempty"`
	Domain   string `json:"domain,omitempty"`
	Expires  string `json:"expires,omitempty"`
	HTTPOnly bool   `json:"httpOnly,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
}

type PostData struct {
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

// Timings are in milliseconds; -1 marks a phase that does not apply.
type Timings struct {
	Blocked float64 `json:"blocked"`
	DNS     float64 `json:"dns"`
	Connect float64 `json:"connect"`
	Send    float64 `json:"send"`
	Wait    float64 `json:"wait"`
	Receive float64 `json:"receive"`
	SSL     float64 `json:"ssl"`
}

// FinishedRequest is a completed network request whose body has not been
// fetched yet.
type FinishedRequest struct {
	Entry *Entry

	// Content fetches the response body. encoding is "base64" when text is
	// not the literal body.
	Content func(ctx context.Context) (text, encoding string, err error)
}

// LoadComplete reports whether the first page of a HAR log has a non-null
// pageTimings.onLoad. The log is the object with "pages", not the
// top-level {"log": ...} wrapper.
func LoadComplete(log json.RawMessage) bool {
	var probe struct {
		Pages []struct {
			PageTimings struct {
				OnLoad json.RawMessage `json:"onLoad"`
			} `json:"pageTimings"`
		} `json:"pages"`
	}
	if err := json.Unmarshal(log, &probe); err != nil {
		return false
	}
	if len(probe.Pages) == 0 {
		return false
	}
	onLoad := probe.Pages[0].PageTimings.OnLoad
	return len(onLoad) > 0 && string(onLoad) != "null"
}
