package fiscal

import "time"

// EmissionKind is how a sales point obtains authorization codes.
type EmissionKind string

const (
	EmissionCAE  EmissionKind = "CAE"
	EmissionCAEA EmissionKind = "CAEA"
)

// SalesPoint is a registered issuing point of a tenant.
type SalesPoint struct {
	TenantID       string       `json:"-"`
	Number         int          `json:"number"`
	Active         bool         `json:"active"`
	EmissionKind   EmissionKind `json:"emissionKind"`
	Default        bool         `json:"default"`
	Blocked        bool         `json:"blocked"`
	DeregisteredAt *time.Time   `json:"deregisteredAt,omitempty"`
}

// AcceptsCAE reports whether documents can be submitted for online authorization from this point.
func (s SalesPoint) AcceptsCAE() bool {
	return s.Active && !s.Blocked && s.DeregisteredAt == nil && s.EmissionKind == EmissionCAE
}
