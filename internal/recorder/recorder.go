package recorder

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/goccy/go-json"

	"github.com/BetterCallFirewall/postcap/internal/models"
	"github.com/BetterCallFirewall/postcap/internal/postman"
)

// Recorder turns observed traffic for one host into a Postman
// collection on disk.
type Recorder struct {
	host    string
	dir     string
	newID   postman.IDFunc
	console io.Writer

	collection *postman.Collection
	folders    map[string]*postman.Folder
}

func New(host, collectionName, dir string, newID postman.IDFunc, console io.Writer) *Recorder {
	return &Recorder{
		host:       host,
		dir:        dir,
		newID:      newID,
		console:    console,
		collection: postman.NewCollection(newID, collectionName, ""),
		folders:    make(map[string]*postman.Folder),
	}
}

// Collection exposes the live collection. Not safe for concurrent use
// with Observe; Service adds the locking.
func (r *Recorder) Collection() *postman.Collection {
	return r.collection
}

// Observe runs one captured request through the recording pipeline:
// filter, extract, classify, route, persist. Requests for other hosts
// are ignored without side effects. The collection file is rewritten
// after every recorded request.
func (r *Recorder) Observe(req models.ObservedRequest) error {
	if req.Host != r.host {
		return nil
	}

	headers := make([]postman.Header, 0, len(req.Headers))
	for _, h := range req.Headers {
		if h.Name == "Content-Length" {
			continue
		}
		headers = append(headers, h)
	}

	var text string
	if req.Body != "" {
		if !utf8.ValidString(req.Body) {
			return fmt.Errorf("request body for %s is not valid utf-8", req.URL)
		}
		text = req.Body
	}

	fmt.Fprintf(r.console, "%s (%s)\n", req.URL, req.Method)

	// JSON is tried on every body before any content-type check; a
	// body that fails to parse stays a plain string.
	var content any
	if text != "" {
		if v, ok := parseJSONValue(text); ok {
			content = v
		} else {
			content = text
		}
	}

	var data any
	isJSON := false
	if req.Method == http.MethodPost || req.Method == http.MethodPut {
		data = content
		ct := headerValue(headers, "Content-Type")
		switch {
		case strings.Contains(ct, "form-urlencoded"):
			if s, ok := data.(string); ok {
				if fields, ok := parseFormPairs(s); ok {
					data = fields
				}
			}
		case strings.Contains(ct, "json"):
			isJSON = true
		}
	}

	name := requestPath(req.URL)
	pr := postman.NewRequest(r.newID, name, req.URL, req.Method, headers, data, isJSON, "")

	if folder, ok := folderName(name); ok {
		f := r.folders[folder]
		if f == nil {
			f = postman.NewFolder(r.newID, folder)
			r.collection.AddFolder(f)
			r.folders[folder] = f
		}
		f.AddRequest(pr)
	} else {
		r.collection.AddRequest(pr)
	}

	return r.collection.SaveFile(r.dir)
}

// parseJSONValue decodes text as a single JSON document. Numbers come
// back as json.Number so integers survive a round trip unchanged.
func parseJSONValue(text string) (any, bool) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	if _, err := dec.Token(); err != io.EOF {
		// trailing garbage after the first value
		return nil, false
	}
	return v, true
}

// headerValue returns the first value recorded under name.
func headerValue(headers []postman.Header, name string) string {
	for _, h := range headers {
		if h.Name == name {
			return h.Value
		}
	}
	return ""
}

// parseFormPairs re-parses a form body: split on &, then on =. A chunk
// without a = aborts the whole re-parse and the caller keeps the body
// as-is. A duplicate key overwrites the value at the first occurrence's
// position. Values are kept percent-encoded.
func parseFormPairs(s string) (postman.FormFields, bool) {
	chunks := strings.Split(s, "&")
	fields := make(postman.FormFields, 0, len(chunks))
	index := make(map[string]int, len(chunks))
	for _, chunk := range chunks {
		parts := strings.Split(chunk, "=")
		if len(parts) < 2 {
			return nil, false
		}
		key, value := parts[0], parts[1]
		if at, ok := index[key]; ok {
			fields[at].Value = value
		} else {
			index[key] = len(fields)
			fields = append(fields, postman.FormField{Key: key, Value: value})
		}
	}
	return fields, true
}

// requestPath is the URL path without the query string.
func requestPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		if i := strings.Index(raw, "?"); i >= 0 {
			return raw[:i]
		}
		return raw
	}
	return u.EscapedPath()
}

// folderName decides grouping: a path with more than one segment after
// stripping a single leading slash groups under its first segment.
func folderName(path string) (string, bool) {
	if path == "" || path == "/" {
		return "", false
	}
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(parts) > 1 {
		return parts[0], true
	}
	return "", false
}
