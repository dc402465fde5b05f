// Package schemas holds the JSON schemas for the marina resources.
package schemas

import "embed"

// FS contains the toplevel JSON schemas, identified by their "$id".
//
//go:embed *.json
var FS embed.FS
