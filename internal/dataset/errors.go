package dataset

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes pipeline failures for logs and metrics.
type ErrorCode string

const (
	ErrCodeFormat        ErrorCode = "FORMAT"         // Missing header, unreadable or undecodable source
	ErrCodeLabelParse    ErrorCode = "LABEL_PARSE"    // Non-integer token in a label field
	ErrCodePartitionSize ErrorCode = "PARTITION_SIZE" // Split sizes do not add up
	ErrCodeConfig        ErrorCode = "CONFIG"         // Invalid configuration
	ErrCodeSink          ErrorCode = "SINK"           // Persisting outputs failed
)

// Sentinel causes carried inside FormatError.
var (
	ErrEmptySource       = errors.New("dataset: source has no header line")
	ErrInvalidUTF8       = errors.New("dataset: invalid UTF-8")
	ErrUnsupportedFormat = errors.New("dataset: unsupported source format")
	ErrSchemaMismatch    = errors.New("dataset: header does not match the expected columns")
)

// Coded is implemented by every typed error in this package.
type Coded interface {
	error
	Code() ErrorCode
}

// CodeOf returns the code of the first Coded error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var c Coded
	if errors.As(err, &c) {
		return c.Code()
	}
	return ""
}

// FormatError reports a file-level failure: no header, I/O failure or an
// encoding problem. It is always fatal.
type FormatError struct {
	Line   int
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	msg := "format error"
	if e.Line > 0 {
		msg = fmt.Sprintf("format error at line %d", e.Line)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FormatError) Unwrap() error { return e.Err }

func (e *FormatError) Code() ErrorCode { return ErrCodeFormat }

// LabelParseError reports a label token that is not an integer.
type LabelParseError struct {
	Line   int
	Column string
	Token  string
	Err    error
}

func (e *LabelParseError) Error() string {
	return fmt.Sprintf("label parse error at line %d, column %q: token %q is not an integer", e.Line, e.Column, e.Token)
}

func (e *LabelParseError) Unwrap() error { return e.Err }

func (e *LabelParseError) Code() ErrorCode { return ErrCodeLabelParse }

// PartitionSizeError is raised when computed split sizes are negative or do
// not sum to the dataset length.
type PartitionSizeError struct {
	Total int
	Sizes [3]int
}

func (e *PartitionSizeError) Error() string {
	return fmt.Sprintf("partition sizes %v do not cover %d records", e.Sizes, e.Total)
}

func (e *PartitionSizeError) Code() ErrorCode { return ErrCodePartitionSize }

// ConfigError reports an invalid configuration value.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration for %q: %s", e.Field, e.Message)
}

func (e *ConfigError) Code() ErrorCode { return ErrCodeConfig }

// SinkError wraps a failure while persisting pipeline outputs.
type SinkError struct {
	Sink string
	Err  error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink %s: %v", e.Sink, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

func (e *SinkError) Code() ErrorCode { return ErrCodeSink }

// RepairAction names how a malformed row was recovered.
type RepairAction string

const (
	RepairMerged RepairAction = "merged" // Overflow joined into the last column
	RepairPadded RepairAction = "padded" // Missing trailing columns filled with ""
)

// MalformedRowRecovered describes a row whose field count did not match the
// schema and was repaired in place. It is an event, not an error: the row is
// kept and the run continues.
type MalformedRowRecovered struct {
	Line   int
	Fields int
	Want   int
	Action RepairAction
}

func (m MalformedRowRecovered) String() string {
	return fmt.Sprintf("line %d: %d fields, want %d (%s)", m.Line, m.Fields, m.Want, m.Action)
}
