// Package templates holds the transactional and drip email bodies.
package templates

import "embed"

//go:embed *.html
var FS embed.FS
