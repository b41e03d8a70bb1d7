package models

import (
	"time"

	"github.com/BetterCallFirewall/postcap/internal/postman"
)

// ObservedRequest is one request seen by the proxy, after any
// content-encoding has been undone. Body carries the raw bytes as a
// string and is not guaranteed to be valid UTF-8.
type ObservedRequest struct {
	ID        string            `json:"id"`
	Host      string            `json:"host"`
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Headers   []postman.Header  `json:"headers"`
	Body      string            `json:"body,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Response  *ObservedResponse `json:"response,omitempty"`
}

// ObservedResponse is the upstream answer attached to a capture once
// the request has been forwarded.
type ObservedResponse struct {
	Status  int              `json:"status"`
	Headers []postman.Header `json:"headers"`
	Body    string           `json:"body,omitempty"`
}
