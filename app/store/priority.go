package store

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// Priority of a job. Values match the gearman protocol and are stored as integers.
type Priority int

// enum of job priorities
const (
	PriorityHigh Priority = iota
	PriorityNormal
	PriorityLow
)

var priorityNames = map[Priority]string{
	PriorityHigh:   "high",
	PriorityNormal: "normal",
	PriorityLow:    "low",
}

// Priorities lists all known priorities, highest first
func Priorities() []Priority {
	return []Priority{PriorityHigh, PriorityNormal, PriorityLow}
}

// ParsePriority converts name (case-insensitive) to Priority
func ParsePriority(name string) (Priority, error) {
	for p, n := range priorityNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return p, nil
		}
	}
	return PriorityNormal, fmt.Errorf("unknown priority %q", name)
}

// Valid reports if p is one of the known priorities
func (p Priority) Valid() bool {
	_, ok := priorityNames[p]
	return ok
}

func (p Priority) String() string {
	if n, ok := priorityNames[p]; ok {
		return n
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// Value implements driver.Valuer, priority stored as integer
func (p Priority) Value() (driver.Value, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid priority %d", int(p))
	}
	return int64(p), nil
}

// Scan implements sql.Scanner. Unknown integers are kept as is, callers check Valid.
func (p *Priority) Scan(src any) error {
	switch v := src.(type) {
	case int64:
		*p = Priority(v)
	case float64:
		*p = Priority(int64(v))
	case []byte:
		return p.scanText(string(v))
	case string:
		return p.scanText(v)
	case nil:
		*p = PriorityNormal
	default:
		return fmt.Errorf("can't scan %T into priority", src)
	}
	return nil
}

func (p *Priority) scanText(s string) error {
	var v int64
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return fmt.Errorf("can't scan %q into priority: %w", s, err)
	}
	*p = Priority(v)
	return nil
}
