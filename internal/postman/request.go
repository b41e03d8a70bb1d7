package postman

import (
	"fmt"
	"sort"
	"strings"
)

// Header is one recorded header pair. The order of a header slice is
// meaningful and survives into the serialized headers blob.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// FormField is one key/value pair of a re-parsed form body.
type FormField struct {
	Key   string
	Value string
}

// FormFields keeps form pairs in first-occurrence order.
type FormFields []FormField

// Owner carries the collection and folder ids a request is serialized
// under. Requests hold no parent pointers; the collection passes the
// owner down at serialization time.
type Owner struct {
	CollectionID string
	FolderID     string
}

// FormParam is one entry of the urlencoded data array.
type FormParam struct {
	Key     string `json:"key"`
	Value   any    `json:"value"`
	Enabled bool   `json:"enabled"`
	Type    string `json:"type"`
}

// RequestDocument is the serialized request. Field order is part of the
// wire contract and must not change.
type RequestDocument struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	URL               string  `json:"url"`
	Method            string  `json:"method"`
	DataMode          string  `json:"dataMode,omitempty"`
	Data              any     `json:"data,omitempty"`
	RawModeData       *string `json:"rawModeData,omitempty"`
	Headers           string  `json:"headers"`
	DescriptionFormat string  `json:"descriptionFormat,omitempty"`
	Description       string  `json:"description,omitempty"`
	CollectionID      string  `json:"collectionId,omitempty"`
	Folder            string  `json:"folder,omitempty"`
}

// Request is one recorded HTTP request. Data holds the classified body:
// nil (no body), a string (raw text), FormFields (re-parsed form body)
// or a decoded JSON value.
type Request struct {
	ID          string
	Name        string
	URL         string
	Method      string
	Headers     []Header
	Data        any
	IsJSON      bool
	Description string
}

func NewRequest(newID IDFunc, name, url, method string, headers []Header, data any, isJSON bool, description string) *Request {
	return &Request{
		ID:          newID(),
		Name:        name,
		URL:         url,
		Method:      method,
		Headers:     headers,
		Data:        data,
		IsJSON:      isJSON,
		Description: description,
	}
}

// Serialize renders the request under the given owner refs. A zero
// Owner renders a detached request: no collectionId, no folder.
func (r *Request) Serialize(owner Owner) RequestDocument {
	doc := RequestDocument{
		ID:     r.ID,
		Name:   r.Name,
		URL:    r.URL,
		Method: r.Method,
	}
	r.serializeData(&doc)
	doc.Headers = r.headerBlock()
	if r.Description != "" {
		doc.DescriptionFormat = "markdown"
		doc.Description = r.Description
	}
	doc.CollectionID = owner.CollectionID
	doc.Folder = owner.FolderID
	return doc
}

// serializeData applies the body policy. A mapping that was not flagged
// as JSON becomes urlencoded entries; everything else present becomes
// raw, pretty-printed when flagged as JSON, plain string form otherwise.
func (r *Request) serializeData(doc *RequestDocument) {
	if r.Data == nil {
		return
	}
	if entries, ok := mappingEntries(r.Data); ok && !r.IsJSON {
		doc.DataMode = "urlencoded"
		doc.Data = entries
		return
	}
	doc.DataMode = "raw"
	if r.IsJSON {
		if text, err := encodeIndented(r.Data); err == nil {
			doc.RawModeData = &text
		}
		return
	}
	text := fmt.Sprint(r.Data)
	doc.RawModeData = &text
}

// mappingEntries converts mapping-shaped data into form entries.
// FormFields keep their recorded order; decoded JSON objects are
// emitted with sorted keys so repeated saves stay byte-identical.
func mappingEntries(data any) ([]FormParam, bool) {
	switch d := data.(type) {
	case FormFields:
		entries := make([]FormParam, 0, len(d))
		for _, f := range d {
			entries = append(entries, FormParam{Key: f.Key, Value: f.Value, Enabled: true, Type: "text"})
		}
		return entries, true
	case map[string]any:
		keys := make([]string, 0, len(d))
		for k := range d {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		entries := make([]FormParam, 0, len(d))
		for _, k := range keys {
			entries = append(entries, FormParam{Key: k, Value: d[k], Enabled: true, Type: "text"})
		}
		return entries, true
	}
	return nil, false
}

// headerBlock joins the ordered headers into the "Name: Value\n" blob.
func (r *Request) headerBlock() string {
	var b strings.Builder
	for _, h := range r.Headers {
		b.WriteString(h.Name)
		b.WriteString(": ")
		b.WriteString(h.Value)
		b.WriteString("\n")
	}
	return b.String()
}
