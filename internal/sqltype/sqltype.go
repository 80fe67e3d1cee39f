// Package sqltype classifies driver-reported column type names into a small set
// of categories shared by type handlers and automapping.
// Names come from sql.ColumnType.DatabaseTypeName and differ per driver, so
// matching is case-insensitive and ignores size specifiers like (10,2).
package sqltype

import "strings"

// Class is the category of a column's declared type.
type Class int

const (
	// Unknown is used when the driver reports no type or an unrecognized one.
	Unknown Class = iota
	Integer
	Float
	Decimal
	Boolean
	String
	Binary
	Temporal
	JSON
	UUID
)

// Classify maps a database type name to its category.
func Classify(typeName string) Class {
	if idx := strings.Index(typeName, "("); idx != -1 {
		typeName = typeName[:idx]
	}
	name := strings.ToUpper(strings.TrimSpace(typeName))
	name = strings.TrimPrefix(name, "UNSIGNED ")
	name = strings.TrimSuffix(name, " UNSIGNED")
	switch name {
	case "":
		return Unknown
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "INTEGER", "BIGINT",
		"SERIAL", "BIGSERIAL", "SMALLSERIAL", "INT2", "INT4", "INT8", "YEAR":
		return Integer
	case "FLOAT", "DOUBLE", "REAL", "FLOAT4", "FLOAT8", "DOUBLE PRECISION":
		return Float
	case "DECIMAL", "NUMERIC", "MONEY", "SMALLMONEY":
		return Decimal
	case "BOOL", "BOOLEAN", "BIT":
		return Boolean
	case "CHAR", "VARCHAR", "TINYTEXT", "TEXT", "MEDIUMTEXT", "LONGTEXT",
		"NCHAR", "NVARCHAR", "NTEXT", "BPCHAR", "CHARACTER", "CHARACTER VARYING",
		"ENUM", "SET", "CLOB", "CITEXT", "XML":
		return String
	case "BLOB", "TINYBLOB", "MEDIUMBLOB", "LONGBLOB", "BINARY", "VARBINARY", "BYTEA", "IMAGE":
		return Binary
	case "DATE", "DATETIME", "DATETIME2", "SMALLDATETIME", "DATETIMEOFFSET", "TIMESTAMP",
		"TIMESTAMPTZ", "TIME", "TIMETZ":
		return Temporal
	case "JSON", "JSONB":
		return JSON
	case "UUID", "UNIQUEIDENTIFIER":
		return UUID
	default:
		return Unknown
	}
}

func (c Class) String() string {
	switch c {
	case Integer:
		return "integer"
	case Float:
		return "float"
	case Decimal:
		return "decimal"
	case Boolean:
		return "boolean"
	case String:
		return "string"
	case Binary:
		return "binary"
	case Temporal:
		return "temporal"
	case JSON:
		return "json"
	case UUID:
		return "uuid"
	default:
		return "unknown"
	}
}
