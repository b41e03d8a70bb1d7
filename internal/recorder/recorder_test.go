package recorder

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BetterCallFirewall/postcap/internal/models"
	"github.com/BetterCallFirewall/postcap/internal/postman"
)

func seqIDs() postman.IDFunc {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%02d", n)
	}
}

type testRecorder struct {
	*Recorder
	console *bytes.Buffer
	dir     string
}

func newTestRecorder(t *testing.T) *testRecorder {
	t.Helper()
	var console bytes.Buffer
	dir := t.TempDir()
	return &testRecorder{
		Recorder: New("example.com", "collection_name", dir, seqIDs(), &console),
		console:  &console,
		dir:      dir,
	}
}

func observed(rawurl, method string, headers []postman.Header, body string) models.ObservedRequest {
	return models.ObservedRequest{
		ID:        "cap-01",
		Host:      "example.com",
		URL:       rawurl,
		Method:    method,
		Headers:   headers,
		Body:      body,
		Timestamp: time.Now(),
	}
}

func (tr *testRecorder) savedDocument(t *testing.T) postman.Document {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(tr.dir, "collection_name.json"))
	require.NoError(t, err)
	var doc postman.Document
	require.NoError(t, json.Unmarshal(raw, &doc))
	return doc
}

func (tr *testRecorder) firstRequest(t *testing.T) *postman.Request {
	t.Helper()
	all := tr.Collection().AllRequests()
	require.NotEmpty(t, all)
	return all[0]
}

func TestObserveIgnoresOtherHosts(t *testing.T) {
	tr := newTestRecorder(t)
	req := observed("https://other.net/x", "GET", nil, "")
	req.Host = "other.net"

	require.NoError(t, tr.Observe(req))

	assert.Empty(t, tr.console.String())
	assert.Empty(t, tr.Collection().AllRequests())
	_, err := os.Stat(filepath.Join(tr.dir, "collection_name.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestObserveConsoleLine(t *testing.T) {
	tr := newTestRecorder(t)

	require.NoError(t, tr.Observe(observed("https://example.com/ping", "GET", nil, "")))

	assert.Equal(t, "https://example.com/ping (GET)\n", tr.console.String())
}

func TestObserveSavesAfterEveryRequest(t *testing.T) {
	tr := newTestRecorder(t)

	require.NoError(t, tr.Observe(observed("https://example.com/a", "GET", nil, "")))
	assert.Len(t, tr.savedDocument(t).Requests, 1)

	require.NoError(t, tr.Observe(observed("https://example.com/b", "GET", nil, "")))
	assert.Len(t, tr.savedDocument(t).Requests, 2)
}

func TestObserveFolderRouting(t *testing.T) {
	tr := newTestRecorder(t)

	require.NoError(t, tr.Observe(observed("https://example.com/users/add", "GET", nil, "")))
	require.NoError(t, tr.Observe(observed("https://example.com/users/list", "GET", nil, "")))
	require.NoError(t, tr.Observe(observed("https://example.com/ping", "GET", nil, "")))
	require.NoError(t, tr.Observe(observed("https://example.com/", "GET", nil, "")))

	c := tr.Collection()
	require.Len(t, c.Folders(), 1, "same first segment reuses the folder")
	folder := c.Folders()[0]
	assert.Equal(t, "users", folder.Name)
	assert.Len(t, folder.Requests(), 2)

	doc := c.Serialize()
	assert.Len(t, doc.Order, 2, "single-segment and root paths stay ungrouped")
	assert.Len(t, doc.Requests, 4)
}

func TestObserveDeepPathGroupsByFirstSegment(t *testing.T) {
	tr := newTestRecorder(t)

	require.NoError(t, tr.Observe(observed("https://example.com/api/v1/users", "GET", nil, "")))

	c := tr.Collection()
	require.Len(t, c.Folders(), 1)
	assert.Equal(t, "api", c.Folders()[0].Name)
}

func TestObserveQueryStringStripped(t *testing.T) {
	tr := newTestRecorder(t)

	require.NoError(t, tr.Observe(observed("https://example.com/users/add?debug=1&x=2", "GET", nil, "")))

	r := tr.firstRequest(t)
	assert.Equal(t, "/users/add", r.Name)
	assert.Equal(t, "https://example.com/users/add?debug=1&x=2", r.URL)
	require.Len(t, tr.Collection().Folders(), 1)
	assert.Equal(t, "users", tr.Collection().Folders()[0].Name)
}

func TestObserveContentLengthDropped(t *testing.T) {
	tr := newTestRecorder(t)
	headers := []postman.Header{
		{Name: "Accept", Value: "*/*"},
		{Name: "Content-Length", Value: "42"},
		{Name: "User-Agent", Value: "curl/8.0"},
	}

	require.NoError(t, tr.Observe(observed("https://example.com/h", "GET", headers, "")))

	r := tr.firstRequest(t)
	doc := r.Serialize(postman.Owner{})
	assert.Equal(t, "Accept: */*\nUser-Agent: curl/8.0\n", doc.Headers)
}

func TestObserveFormBody(t *testing.T) {
	tr := newTestRecorder(t)
	headers := []postman.Header{{Name: "Content-Type", Value: "application/x-www-form-urlencoded"}}

	require.NoError(t, tr.Observe(observed("https://example.com/login", "POST", headers, "a=1&b=2")))

	r := tr.firstRequest(t)
	assert.Equal(t, postman.FormFields{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}}, r.Data)
	assert.False(t, r.IsJSON)
}

func TestObserveFormBodyDuplicateKeys(t *testing.T) {
	tr := newTestRecorder(t)
	headers := []postman.Header{{Name: "Content-Type", Value: "application/x-www-form-urlencoded"}}

	require.NoError(t, tr.Observe(observed("https://example.com/login", "POST", headers, "a=1&b=2&a=3")))

	r := tr.firstRequest(t)
	assert.Equal(t, postman.FormFields{{Key: "a", Value: "3"}, {Key: "b", Value: "2"}}, r.Data)
}

func TestObserveFormBodyMalformed(t *testing.T) {
	tr := newTestRecorder(t)
	headers := []postman.Header{{Name: "Content-Type", Value: "application/x-www-form-urlencoded"}}

	require.NoError(t, tr.Observe(observed("https://example.com/login", "POST", headers, "a=1&oops")))

	// one broken pair keeps the whole body untouched
	r := tr.firstRequest(t)
	assert.Equal(t, "a=1&oops", r.Data)
	doc := r.Serialize(postman.Owner{})
	assert.Equal(t, "raw", doc.DataMode)
}

func TestObserveJSONBody(t *testing.T) {
	tr := newTestRecorder(t)
	headers := []postman.Header{{Name: "Content-Type", Value: "application/json"}}

	require.NoError(t, tr.Observe(observed("https://example.com/api", "POST", headers, `{"x": 1}`)))

	r := tr.firstRequest(t)
	require.True(t, r.IsJSON)
	m, ok := r.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, json.Number("1"), m["x"])

	doc := r.Serialize(postman.Owner{})
	require.NotNil(t, doc.RawModeData)
	assert.Equal(t, "{\n    \"x\": 1\n}", *doc.RawModeData)
}

func TestObserveJSONContentTypeVariants(t *testing.T) {
	tr := newTestRecorder(t)

	for _, ct := range []string{"application/json; charset=utf-8", "application/vnd.api+json", "text/json"} {
		headers := []postman.Header{{Name: "Content-Type", Value: ct}}
		require.NoError(t, tr.Observe(observed("https://example.com/api", "POST", headers, `{"x": 1}`)))
	}

	for _, r := range tr.Collection().AllRequests() {
		assert.True(t, r.IsJSON)
	}
}

func TestObserveJSONParsedBeforeContentType(t *testing.T) {
	tr := newTestRecorder(t)
	headers := []postman.Header{{Name: "Content-Type", Value: "application/x-www-form-urlencoded"}}

	// the body parses as JSON first, so the form re-parse never sees a
	// string and the object survives as a mapping
	require.NoError(t, tr.Observe(observed("https://example.com/login", "POST", headers, `{"b":"2","a":"1"}`)))

	r := tr.firstRequest(t)
	m, ok := r.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "1", m["a"])
	assert.False(t, r.IsJSON)

	doc := r.Serialize(postman.Owner{})
	assert.Equal(t, "urlencoded", doc.DataMode)
}

func TestObserveQuotedFormString(t *testing.T) {
	tr := newTestRecorder(t)
	headers := []postman.Header{{Name: "Content-Type", Value: "application/x-www-form-urlencoded"}}

	// a JSON-quoted body decodes to a plain string, which the form
	// re-parse then picks up
	require.NoError(t, tr.Observe(observed("https://example.com/login", "POST", headers, `"a=1&b=2"`)))

	r := tr.firstRequest(t)
	assert.Equal(t, postman.FormFields{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}}, r.Data)
}

func TestObserveGETCarriesNoData(t *testing.T) {
	tr := newTestRecorder(t)
	headers := []postman.Header{{Name: "Content-Type", Value: "application/json"}}

	require.NoError(t, tr.Observe(observed("https://example.com/api", "GET", headers, `{"x": 1}`)))

	r := tr.firstRequest(t)
	assert.Nil(t, r.Data)
	assert.False(t, r.IsJSON)
}

func TestObservePUTCarriesData(t *testing.T) {
	tr := newTestRecorder(t)
	headers := []postman.Header{{Name: "Content-Type", Value: "application/x-www-form-urlencoded"}}

	require.NoError(t, tr.Observe(observed("https://example.com/users/1", "PUT", headers, "name=ada")))

	r := tr.firstRequest(t)
	assert.Equal(t, postman.FormFields{{Key: "name", Value: "ada"}}, r.Data)
}

func TestObserveEmptyBodyPost(t *testing.T) {
	tr := newTestRecorder(t)
	headers := []postman.Header{{Name: "Content-Type", Value: "application/x-www-form-urlencoded"}}

	require.NoError(t, tr.Observe(observed("https://example.com/login", "POST", headers, "")))

	r := tr.firstRequest(t)
	assert.Nil(t, r.Data)
	doc := r.Serialize(postman.Owner{})
	assert.Empty(t, doc.DataMode)
}

func TestObserveNullBody(t *testing.T) {
	tr := newTestRecorder(t)
	headers := []postman.Header{{Name: "Content-Type", Value: "application/json"}}

	// a JSON null decodes to nothing and behaves like an absent body
	require.NoError(t, tr.Observe(observed("https://example.com/api", "POST", headers, "null")))

	r := tr.firstRequest(t)
	assert.Nil(t, r.Data)
	doc := r.Serialize(postman.Owner{})
	assert.Empty(t, doc.DataMode)
}

func TestObserveInvalidUTF8(t *testing.T) {
	tr := newTestRecorder(t)

	err := tr.Observe(observed("https://example.com/bin", "POST", nil, "\xff\xfe"))
	require.Error(t, err)

	// the failure happens before any state change or console output
	assert.Empty(t, tr.console.String())
	assert.Empty(t, tr.Collection().AllRequests())
	_, statErr := os.Stat(filepath.Join(tr.dir, "collection_name.json"))
	assert.True(t, os.IsNotExist(statErr))

	// the recorder keeps working afterwards
	require.NoError(t, tr.Observe(observed("https://example.com/ok", "GET", nil, "")))
	assert.Len(t, tr.Collection().AllRequests(), 1)
}

func TestObserveRawTextBody(t *testing.T) {
	tr := newTestRecorder(t)
	headers := []postman.Header{{Name: "Content-Type", Value: "text/plain"}}

	require.NoError(t, tr.Observe(observed("https://example.com/note", "POST", headers, "hello world")))

	r := tr.firstRequest(t)
	doc := r.Serialize(postman.Owner{})
	assert.Equal(t, "raw", doc.DataMode)
	require.NotNil(t, doc.RawModeData)
	assert.Equal(t, "hello world", *doc.RawModeData)
}
