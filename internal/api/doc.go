// Package api exposes the quota engine over HTTP.
//
// Routes are served by chi. Handlers are typed functions wrapped with
// pkg/handler, and requests are bound by pkg/binder from the path, query and
// JSON body. Responses use the {data, meta, error} envelope with snake_case
// fields. Mutating subscription routes require If-Match with the expected
// version and answer with an ETag.
//
// Domain errors are mapped to statuses in one table (see classify); quota
// rejections additionally carry {limit, current} at the top level.
package api
