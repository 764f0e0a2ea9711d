package api

import _ "embed"

// OpenAPISpec — спецификация HTTP API, отдаётся по /swagger/openapi.json.
//
//go:embed openapi.json
var OpenAPISpec []byte
