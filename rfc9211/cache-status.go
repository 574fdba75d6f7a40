// Package rfc9211 implements the Cache-Status HTTP response header field
// (RFC 9211) as sent by the agent.
package rfc9211

import (
	"fmt"
	"strings"
)

// Cache identifier used as the first member of the header value.
const CacheName = "EduQuest"

type Status string

const (
	StatusHit Status = "hit"
	StatusFwd Status = "fwd"
)

type FwdReason string

const (
	// The cache was configured to not handle this request.
	FwdReasonBypass FwdReason = "bypass"

	// The request method's semantics require the request to be
	// forwarded.
	FwdReasonMethod FwdReason = "method"

	// The cache did not contain any responses that matched the
	// request URI.
	FwdReasonUriMiss FwdReason = "uri-miss"

	// The cache contained a response that matched the request
	// URI, but it could not select a response based upon this request's
	// header fields and stored Vary header fields.
	FwdReasonVaryMiss FwdReason = "vary-miss"

	// The cache did not contain any responses that could be used to
	// satisfy this request.
	FwdReasonMiss FwdReason = "miss"
)

type CacheStatus struct {
	Status    Status
	FwdReason FwdReason
	// Response was written to the cache.
	Stored bool
	// Free-form detail, e.g. the cache the response was served from.
	Detail string
}

func (cs *CacheStatus) Hit() {
	cs.Status = StatusHit
	cs.FwdReason = ""
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.Status = StatusFwd
	cs.FwdReason = reason
}

// String returns the header field value, e.g. `EduQuest; fwd=uri-miss; stored`.
func (cs CacheStatus) String() string {
	params := []string{CacheName}
	switch cs.Status {
	case StatusHit:
		params = append(params, string(StatusHit))
	case StatusFwd:
		params = append(params, fmt.Sprintf("%s=%s", StatusFwd, cs.FwdReason))
	}
	if cs.Stored {
		params = append(params, "stored")
	}
	if cs.Detail != "" {
		params = append(params, fmt.Sprintf("detail=%q", cs.Detail))
	}
	return strings.Join(params, "; ")
}
