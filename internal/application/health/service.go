package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
	corehealth "3tcapital/ms_facturacion_afip/internal/core/health"
)

// Metadata contains immutable metadata about the running service.
type Metadata struct {
	Service     string
	Version     string
	Environment string
}

// Check probes one dependency. A Critical failure marks the service DOWN,
// any other failure DEGRADED.
type Check struct {
	Name     string
	Critical bool
	Probe    func(ctx context.Context) error
}

// Prober calls AFIP's FEDummy for an environment.
type Prober interface {
	Probe(ctx context.Context, env fiscal.Environment) (fiscal.ServiceStatus, error)
}

const checkTimeout = 3 * time.Second

// Service exposes health-check use cases to adapters.
type Service struct {
	meta      Metadata
	startedAt time.Time
	checks    []Check
	prober    Prober
	configs   fiscal.ConfigStore
}

// NewService creates a health service. prober and configs may be nil when the
// AFIP probe is not wired.
func NewService(meta Metadata, checks []Check, prober Prober, configs fiscal.ConfigStore) *Service {
	return &Service{
		meta:      meta,
		startedAt: time.Now().UTC(),
		checks:    checks,
		prober:    prober,
		configs:   configs,
	}
}

// Status returns the current availability snapshot.
func (s *Service) Status(ctx context.Context) corehealth.Status {
	uptime := time.Since(s.startedAt)
	status := corehealth.Status{
		Service:     s.meta.Service,
		Version:     s.meta.Version,
		Environment: s.meta.Environment,
		Status:      corehealth.StatusUp,
		StartedAt:   s.startedAt,
		Uptime:      uptime.String(),
		UptimeSecs:  int64(uptime.Seconds()),
	}

	for _, check := range s.checks {
		dep := run(ctx, check)
		if dep.Status != corehealth.StatusUp {
			if check.Critical {
				status.Status = corehealth.StatusDown
			} else if status.Status == corehealth.StatusUp {
				status.Status = corehealth.StatusDegraded
			}
		}
		status.Dependencies = append(status.Dependencies, dep)
	}
	return status
}

func run(ctx context.Context, check Check) corehealth.Dependency {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := time.Now()
	err := check.Probe(ctx)
	dep := corehealth.Dependency{
		Name:      check.Name,
		Status:    corehealth.StatusUp,
		Critical:  check.Critical,
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		dep.Status = corehealth.StatusDown
		dep.Error = err.Error()
	}
	return dep
}

// FiscalStatus probes AFIP's WSFE (FEDummy) in the tenant's environment.
func (s *Service) FiscalStatus(ctx context.Context, tenantID string) (fiscal.Environment, fiscal.ServiceStatus, error) {
	const op = "fiscal health"

	if s.prober == nil || s.configs == nil {
		return "", fiscal.ServiceStatus{}, fiscal.NewError(fiscal.KindConfiguration, op, "AFIP probe is not configured", nil)
	}

	cfg, err := s.configs.Get(ctx, tenantID)
	if errors.Is(err, fiscal.ErrNotFound) {
		return "", fiscal.ServiceStatus{}, &fiscal.Error{Kind: fiscal.KindConfiguration, Op: op, TenantID: tenantID, Message: "tenant has no fiscal configuration", Err: err}
	}
	if err != nil {
		return "", fiscal.ServiceStatus{}, fmt.Errorf("%s tenant=%s: %w", op, tenantID, err)
	}

	probed, err := s.prober.Probe(ctx, cfg.Environment)
	if err != nil {
		return cfg.Environment, fiscal.ServiceStatus{}, fiscal.WithContext(err, op, tenantID, "")
	}
	return cfg.Environment, probed, nil
}
