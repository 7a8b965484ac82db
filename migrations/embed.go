// Package migrations embeds the schema migration and seed SQL so the migrate
// binary is self-contained.
package migrations

import "embed"

//go:embed sql seeds
var FS embed.FS
