// Package web holds the server-rendered templates and static assets compiled
// into the binaries.
package web

import "embed"

// Templates holds templates/layouts, templates/partials and templates/pages.
//
//go:embed templates
var Templates embed.FS

// Static holds the files served under /static/.
//
//go:embed static
var Static embed.FS
