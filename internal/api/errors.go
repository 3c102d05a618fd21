package api

import "errors"

var (
	ErrNotFound      = errors.New("upstream resource not found")
	ErrRateLimited   = errors.New("rate limited by upstream")
	ErrUpstreamFetch = errors.New("upstream fetch failed")
)
