package assets

import (
	"embed"
	"io/fs"
)

const (
	SqliteMigrationDir   = "migrations/sqlite"
	PostgresMigrationDir = "migrations/postgres"
	MySQLMigrationDir    = "migrations/mysql"
)

//go:embed migrations/*
var EmbedMigrations embed.FS

// Migrations returns the migrations of dir rooted at the directory itself.
func Migrations(dir string) fs.FS {
	sub, err := fs.Sub(EmbedMigrations, dir)
	if err != nil {
		panic(err)
	}
	return sub
}
