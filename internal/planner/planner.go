// Package planner turns statement definitions and a parameter object into
// parameterized SQL for a target dialect.
package planner

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"rowgraph/internal/meta"
	"rowgraph/internal/sqlutil"
)

// SQLQuery represents a planned SQL statement with bound args.
type SQLQuery struct {
	SQL  string
	Args []interface{}
}

// Source produces the SQL of a statement for one parameter object.
type Source interface {
	Plan(dialect sqlutil.Dialect, param any) (SQLQuery, error)
}

// Raw is hand-written SQL using ? placeholders. Params names the parameter
// properties bound to each placeholder in order.
type Raw struct {
	SQL    string
	Params []string
}

// Plan binds the parameters and rewrites placeholders for the dialect.
func (r Raw) Plan(dialect sqlutil.Dialect, param any) (SQLQuery, error) {
	args, err := bindParams(r.Params, param)
	if err != nil {
		return SQLQuery{}, err
	}
	if want := strings.Count(r.SQL, "?"); want != len(args) {
		return SQLQuery{}, fmt.Errorf("statement has %d placeholders but %d parameters", want, len(args))
	}
	query, err := dialect.Placeholders().ReplacePlaceholders(r.SQL)
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: query, Args: args}, nil
}

// Cond is an equality filter between a column and a parameter property.
type Cond struct {
	Column string
	Param  string
}

// Select builds a SELECT over one table with optional joins and equality filters.
// Column and OrderBy entries are emitted as written; Table and Where columns are quoted.
type Select struct {
	Table     string
	Alias     string
	Columns   []string
	LeftJoins []string
	Where     []Cond
	OrderBy   []string
}

// Plan builds the statement with squirrel.
func (s Select) Plan(dialect sqlutil.Dialect, param any) (SQLQuery, error) {
	if s.Table == "" {
		return SQLQuery{}, fmt.Errorf("select requires a table")
	}
	columns := s.Columns
	if len(columns) == 0 {
		columns = []string{"*"}
	}
	from := dialect.QuoteIdentifier(s.Table)
	if s.Alias != "" {
		from += " " + s.Alias
	}
	builder := sq.Select(columns...).From(from)
	for _, join := range s.LeftJoins {
		builder = builder.LeftJoin(join)
	}
	if len(s.Where) > 0 {
		names := make([]string, len(s.Where))
		for i, c := range s.Where {
			names[i] = c.Param
		}
		values, err := bindParams(names, param)
		if err != nil {
			return SQLQuery{}, err
		}
		where := sq.And{}
		for i, c := range s.Where {
			where = append(where, sq.Eq{qualify(dialect, c.Column): values[i]})
		}
		builder = builder.Where(where)
	}
	if len(s.OrderBy) > 0 {
		builder = builder.OrderBy(s.OrderBy...)
	}

	query, args, err := builder.PlaceholderFormat(dialect.Placeholders()).ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: query, Args: args}, nil
}

// qualify quotes each dot-separated part of a column reference.
func qualify(dialect sqlutil.Dialect, column string) string {
	parts := strings.Split(column, ".")
	for i, p := range parts {
		parts[i] = dialect.QuoteIdentifier(p)
	}
	return strings.Join(parts, ".")
}

var timeType = reflect.TypeOf(time.Time{})

// bindParams reads each named parameter from param. A scalar parameter binds
// to every name.
func bindParams(names []string, param any) ([]interface{}, error) {
	if len(names) == 0 {
		return nil, nil
	}
	args := make([]interface{}, len(names))
	if param == nil {
		return args, nil
	}
	if isScalar(param) {
		for i := range args {
			args[i] = param
		}
		return args, nil
	}
	for i, name := range names {
		v, err := meta.Default().Get(param, name)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", name, err)
		}
		args[i] = v
	}
	return args, nil
}

func isScalar(param any) bool {
	t := reflect.TypeOf(param)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Struct:
		return t == timeType
	case reflect.Map:
		return false
	}
	return true
}
