// Package db embeds the coupon engine schema applied at startup.
package db

import _ "embed"

// Schema creates the catalog, cart, coupon and order tables. Every statement
// is idempotent so it can run on each boot.
//
//go:embed migrations/001_schema.sql
var Schema string
