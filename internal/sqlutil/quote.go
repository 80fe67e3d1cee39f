// Package sqlutil provides SQL utility functions.
package sqlutil

import (
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// Dialect selects identifier quoting and bind placeholders for one database family.
type Dialect int

const (
	MySQL Dialect = iota
	Postgres
	SQLServer
	SQLite
)

// DialectForDriver maps a database/sql driver name to its dialect. Unknown
// drivers use MySQL conventions.
func DialectForDriver(driver string) Dialect {
	switch strings.ToLower(driver) {
	case "pgx", "postgres", "postgresql":
		return Postgres
	case "sqlserver", "mssql":
		return SQLServer
	case "sqlite", "sqlite3":
		return SQLite
	}
	return MySQL
}

func (d Dialect) String() string {
	switch d {
	case Postgres:
		return "postgres"
	case SQLServer:
		return "sqlserver"
	case SQLite:
		return "sqlite"
	}
	return "mysql"
}

// QuoteIdentifier quotes a SQL identifier (table name, column name, etc.)
// using the dialect's delimiters, doubling any closing delimiter inside it.
func (d Dialect) QuoteIdentifier(name string) string {
	switch d {
	case Postgres, SQLite:
		return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
	case SQLServer:
		return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
	}
	return QuoteIdentifier(name)
}

// Placeholders returns the squirrel placeholder format for bind parameters.
func (d Dialect) Placeholders() sq.PlaceholderFormat {
	switch d {
	case Postgres:
		return sq.Dollar
	case SQLServer:
		return sq.AtP
	}
	return sq.Question
}

// QuoteIdentifier quotes a SQL identifier (table name, column name, etc.)
// with backticks and escapes any backticks within the identifier.
func QuoteIdentifier(name string) string {
	escaped := strings.ReplaceAll(name, "`", "``")
	return "`" + escaped + "`"
}

// QuoteString quotes a SQL string literal with single quotes and escapes
// any single quotes within the string by doubling them.
func QuoteString(s string) string {
	escaped := strings.ReplaceAll(s, "'", "''")
	return "'" + escaped + "'"
}
