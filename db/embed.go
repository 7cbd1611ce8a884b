// Package db embeds the PostgreSQL schema applied at startup and by the
// integration tests.
package db

import _ "embed"

// Schema contains the idempotent DDL for all application tables.
//
//go:embed migrations/001_schema.sql
var Schema string
