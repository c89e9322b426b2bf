package fiscal

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned by stores when the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyAuthorized is returned when a sequence number already has an AUTHORIZED document.
	ErrAlreadyAuthorized = errors.New("document already authorized")
)

// Kind classifies failures so callers can decide whether re-invocation is safe.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindConfiguration
	KindAuthentication
	KindProtocol
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConfiguration:
		return "configuration"
	case KindAuthentication:
		return "authentication"
	case KindProtocol:
		return "protocol"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Error carries the failure kind plus the operation context it happened in.
type Error struct {
	Kind     Kind
	Op       string
	TenantID string
	Key      string
	Code     string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.TenantID != "" {
		fmt.Fprintf(&b, " tenant=%s", e.TenantID)
	}
	if e.Key != "" {
		fmt.Fprintf(&b, " key=%s", e.Key)
	}
	fmt.Fprintf(&b, ": %s error", e.Kind)
	if e.Code != "" {
		fmt.Fprintf(&b, " [%s]", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds an Error of the given kind.
func NewError(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// WithContext returns err annotated with tenant and document key. Errors that are
// not *Error are wrapped with the op name only.
func WithContext(err error, op, tenantID, key string) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		clone := *fe
		if clone.Op == "" {
			clone.Op = op
		} else if op != "" && !strings.HasPrefix(clone.Op, op) {
			clone.Op = op + ": " + clone.Op
		}
		if clone.TenantID == "" {
			clone.TenantID = tenantID
		}
		if clone.Key == "" {
			clone.Key = key
		}
		return &clone
	}
	return fmt.Errorf("%s tenant=%s key=%s: %w", op, tenantID, key, err)
}

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

// IsTransient reports whether re-invoking the operation (re-querying the sequence) is safe.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// RejectionError is the error form of a DomainRejection outcome: AFIP refused a
// well-formed submission and the sequence number is burned.
type RejectionError struct {
	Key            SequenceKey
	SequenceNumber int64
	Observations   []Observation
}

func (e *RejectionError) Error() string {
	parts := make([]string, 0, len(e.Observations))
	for _, obs := range e.Observations {
		parts = append(parts, fmt.Sprintf("%d %s", obs.Code, obs.Message))
	}
	return fmt.Sprintf("document %s rejected by AFIP (number %d burned): %s",
		e.Key, e.SequenceNumber, strings.Join(parts, "; "))
}
