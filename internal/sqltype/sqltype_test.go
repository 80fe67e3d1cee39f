package sqltype

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		class Class
		names []string
	}{
		{Integer, []string{"TINYINT", "int", "BIGINT", "int8", "INT UNSIGNED", "serial", "YEAR"}},
		{Float, []string{"FLOAT", "double", "REAL", "float8"}},
		{Decimal, []string{"DECIMAL", "numeric", "DECIMAL(10,2)", "MONEY"}},
		{Boolean, []string{"BOOL", "boolean", "BIT"}},
		{String, []string{"VARCHAR", "varchar(255)", "TEXT", "NVARCHAR", "ENUM", "bpchar"}},
		{Binary, []string{"BLOB", "varbinary", "BYTEA"}},
		{Temporal, []string{"DATE", "datetime", "TIMESTAMPTZ", "DATETIME2"}},
		{JSON, []string{"JSON", "jsonb"}},
		{UUID, []string{"UUID", "UNIQUEIDENTIFIER"}},
		{Unknown, []string{"", "  ", "GEOMETRY", "VECTOR"}},
	}

	for _, tt := range tests {
		for _, name := range tt.names {
			t.Run(tt.class.String()+"/"+name, func(t *testing.T) {
				assert.Equal(t, tt.class, Classify(name))
			})
		}
	}
}

func TestClass_String(t *testing.T) {
	assert.Equal(t, "integer", Integer.String())
	assert.Equal(t, "unknown", Class(99).String())
}
