// Package migrations embeds the SQL schema owned by the facet index service.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
