package poscore

import "time"

// HTTPRequestTimeout is the default timeout for all HTTP requests to the API.
const HTTPRequestTimeout = 60 * time.Second

// ExportRequestTimeout is the timeout for photo export requests, which build
// an archive server-side and routinely run far longer than ordinary calls.
const ExportRequestTimeout = 10 * time.Minute
