package models

// Severity represents the severity of an issue attached to a scan result.
type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
	SeverityHint    Severity = "HINT"
)

// Weight returns a numeric weight for sorting (higher = more severe).
func (s Severity) Weight() int {
	switch s {
	case SeverityError:
		return 3
	case SeverityWarning:
		return 2
	case SeverityHint:
		return 1
	default:
		return 0
	}
}

func (s Severity) String() string {
	return string(s)
}

// MapSeverity normalises loosely spelled severity strings to Severity.
func MapSeverity(raw string) Severity {
	switch raw {
	case "ERROR", "error", "FATAL", "fatal":
		return SeverityError
	case "WARNING", "warning", "WARN", "warn":
		return SeverityWarning
	default:
		return SeverityHint
	}
}
