// Package combine serves several static assets as a single response.
//
// A combine URL carries a base path, an identifier (default "??") and a
// comma separated item list:
//
//	/static/??reset.css?v=3,layout.css,theme.css?v=9
//
// Each item is resolved against the root directory in list order, items
// that are not .css/.js files or do not exist are skipped, and the bytes of
// everything that resolved are concatenated into one body. The declared
// Content-Type comes from the extension at the end of the outer URL and
// Last-Modified is the newest mtime among the resolved files.
//
// Requests that are not GET/HEAD or do not contain the identifier pass
// straight through to the next handler.
package combine
