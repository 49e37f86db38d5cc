// Package migrations bundles the schema files so the binary can migrate
// without a checkout of the repository.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
