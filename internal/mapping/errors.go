package mapping

import "fmt"

// ConfigurationError reports a descriptor or statement that cannot be used as
// defined. Source names the descriptor or statement involved.
type ConfigurationError struct {
	Source  string
	Message string
	Err     error
}

func (e *ConfigurationError) Error() string {
	msg := e.Message
	if e.Source != "" {
		msg = fmt.Sprintf("error in %s: %s", e.Source, msg)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Errorf builds a ConfigurationError for source.
func Errorf(source, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Source: source, Message: fmt.Sprintf(format, args...)}
}
