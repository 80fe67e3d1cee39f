package materialize

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"rowgraph/internal/mapping"
)

// ConfigurationError reports a descriptor, statement or setting combination
// that cannot materialize rows.
type ConfigurationError = mapping.ConfigurationError

func configErrorf(source, format string, args ...any) error {
	return mapping.Errorf(source, format, args...)
}

// DriverError wraps a failure of the row source.
type DriverError struct {
	StatementID string
	Err         error
}

func (e *DriverError) Error() string {
	stmt := e.StatementID
	if stmt == "" {
		stmt = "<unnamed>"
	}
	var myErr *mysql.MySQLError
	if errors.As(e.Err, &myErr) {
		return fmt.Sprintf("error reading results of %s (mysql error %d): %s", stmt, myErr.Number, myErr.Message)
	}
	return fmt.Sprintf("error reading results of %s: %v", stmt, e.Err)
}

func (e *DriverError) Unwrap() error {
	return e.Err
}
