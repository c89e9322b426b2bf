package ticket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"3tcapital/ms_facturacion_afip/internal/adapters/afip"
	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
	"3tcapital/ms_facturacion_afip/internal/infrastructure/cache"
)

// Login exchanges signed credentials for an access ticket.
type Login interface {
	Login(ctx context.Context, env fiscal.Environment, signer *afip.Signer) (fiscal.Ticket, error)
}

// Observer receives the result of every ticket refresh.
type Observer interface {
	ObserveTicketRefresh(result string)
}

type nopObserver struct{}

func (nopObserver) ObserveTicketRefresh(string) {}

// Authority hands out WSAA access tickets per tenant. A ticket is reused while it
// has more than fiscal.TicketSafetyMargin left; otherwise a new one is requested.
// Concurrent refreshes for one tenant collapse into a single loginCms call.
type Authority struct {
	store    fiscal.ConfigStore
	login    Login
	cache    *cache.TicketCache
	group    singleflight.Group
	observer Observer
	log      *slog.Logger
	now      func() time.Time
}

// NewAuthority creates a ticket authority. observer may be nil.
func NewAuthority(store fiscal.ConfigStore, login Login, observer Observer, log *slog.Logger) *Authority {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Authority{
		store:    store,
		login:    login,
		cache:    cache.NewTicketCache(),
		observer: observer,
		log:      log,
		now:      time.Now,
	}
}

// GetTicket returns a usable ticket for the tenant. Configuration problems are
// reported without contacting AFIP.
func (a *Authority) GetTicket(ctx context.Context, tenantID string) (fiscal.Ticket, error) {
	const op = "get ticket"

	if ticket, ok := a.cache.Get(tenantID, a.now(), fiscal.TicketSafetyMargin); ok {
		return ticket, nil
	}

	cfg, err := a.loadConfig(ctx, tenantID)
	if err != nil {
		return fiscal.Ticket{}, err
	}
	if cfg.Ticket.UsableAt(a.now(), fiscal.TicketSafetyMargin) {
		a.cache.Set(tenantID, cfg.Ticket)
		return cfg.Ticket, nil
	}

	// The refresh outlives a canceled waiter: a ticket WSAA already issued must
	// still be stored, since it will not issue another one until it expires.
	ch := a.group.DoChan(tenantID, func() (any, error) {
		return a.refresh(context.WithoutCancel(ctx), tenantID)
	})

	select {
	case <-ctx.Done():
		return fiscal.Ticket{}, &fiscal.Error{
			Kind:     fiscal.KindTransient,
			Op:       op,
			TenantID: tenantID,
			Message:  "canceled while waiting for ticket",
			Err:      ctx.Err(),
		}
	case res := <-ch:
		if res.Err != nil {
			return fiscal.Ticket{}, res.Err
		}
		return res.Val.(fiscal.Ticket), nil
	}
}

func (a *Authority) refresh(ctx context.Context, tenantID string) (fiscal.Ticket, error) {
	const op = "refresh ticket"

	// Another process may have stored a fresh ticket since the caller looked.
	cfg, err := a.loadConfig(ctx, tenantID)
	if err != nil {
		return fiscal.Ticket{}, err
	}
	if cfg.Ticket.UsableAt(a.now(), fiscal.TicketSafetyMargin) {
		a.cache.Set(tenantID, cfg.Ticket)
		return cfg.Ticket, nil
	}

	signer, err := afip.LoadSigner(*cfg)
	if err != nil {
		a.observer.ObserveTicketRefresh("configuration_error")
		return fiscal.Ticket{}, fiscal.WithContext(err, op, tenantID, "")
	}

	a.log.Info("Requesting access ticket", "tenant_id", tenantID, "environment", cfg.Environment)
	ticket, err := a.login.Login(ctx, cfg.Environment, signer)
	if err != nil {
		return fiscal.Ticket{}, a.loginFailed(ctx, tenantID, err)
	}

	if err := a.store.UpdateTicket(ctx, tenantID, ticket); err != nil {
		// The ticket is valid even if it could not be persisted; keep serving it
		// from memory so the next call does not ask WSAA for a duplicate.
		a.log.Error("Failed to persist access ticket", "tenant_id", tenantID, "error", err)
	}
	a.cache.Set(tenantID, ticket)
	a.observer.ObserveTicketRefresh("issued")
	a.log.Info("Access ticket issued", "tenant_id", tenantID, "expires_at", ticket.ExpiresAt)

	return ticket, nil
}

func (a *Authority) loginFailed(ctx context.Context, tenantID string, err error) error {
	const op = "refresh ticket"

	switch fiscal.KindOf(err) {
	case fiscal.KindAuthentication:
		a.observer.ObserveTicketRefresh("authentication_error")
		a.cache.Clear(tenantID)
		if serr := a.store.UpdateStatus(ctx, tenantID, fiscal.StatusError, authMessage(err)); serr != nil {
			a.log.Error("Failed to record authentication failure", "tenant_id", tenantID, "error", serr)
		}
		a.log.Warn("WSAA rejected credentials", "tenant_id", tenantID, "error", err)
	case fiscal.KindTransient:
		a.observer.ObserveTicketRefresh("transient_error")
		a.log.Warn("WSAA unavailable", "tenant_id", tenantID, "error", err)
	default:
		a.observer.ObserveTicketRefresh("error")
		a.log.Error("Access ticket request failed", "tenant_id", tenantID, "error", err)
	}
	return fiscal.WithContext(err, op, tenantID, "")
}

func authMessage(err error) string {
	var fe *fiscal.Error
	if errors.As(err, &fe) && fe.Message != "" {
		return fe.Message
	}
	return err.Error()
}

func (a *Authority) loadConfig(ctx context.Context, tenantID string) (*fiscal.FiscalConfig, error) {
	cfg, err := a.store.Get(ctx, tenantID)
	if errors.Is(err, fiscal.ErrNotFound) {
		return nil, &fiscal.Error{
			Kind:     fiscal.KindConfiguration,
			Op:       "load fiscal config",
			TenantID: tenantID,
			Message:  "tenant has no fiscal configuration",
			Err:      err,
		}
	}
	if err != nil {
		return nil, fmt.Errorf("load fiscal config tenant=%s: %w", tenantID, err)
	}
	return cfg, nil
}

// Invalidate drops the tenant's ticket from memory and from the store. Used when
// WSFE refuses a ticket that still looked valid.
func (a *Authority) Invalidate(ctx context.Context, tenantID string) error {
	a.cache.Clear(tenantID)
	if err := a.store.ClearTicket(ctx, tenantID); err != nil && !errors.Is(err, fiscal.ErrNotFound) {
		return fmt.Errorf("clear ticket tenant=%s: %w", tenantID, err)
	}
	return nil
}

// ValidateCertificate summarizes a PEM certificate without storing it.
func (a *Authority) ValidateCertificate(certPEM string) (fiscal.CertificateInfo, error) {
	return afip.ValidateCertificate(certPEM, a.now())
}

// Configure validates and stores new credentials for the tenant. The stored
// configuration starts over as PENDING_SETUP with no ticket.
func (a *Authority) Configure(ctx context.Context, tenantID string, creds fiscal.Credentials) (fiscal.ConfigSummary, error) {
	const op = "configure credentials"

	fail := func(message string, err error) (fiscal.ConfigSummary, error) {
		return fiscal.ConfigSummary{}, &fiscal.Error{Kind: fiscal.KindConfiguration, Op: op, TenantID: tenantID, Message: message, Err: err}
	}

	if creds.Environment != fiscal.EnvironmentTest && creds.Environment != fiscal.EnvironmentProd {
		return fail(fmt.Sprintf("unknown environment %q", creds.Environment), nil)
	}

	certPEM, keyPEM, passphrase := creds.CertificatePEM, creds.PrivateKeyPEM, creds.KeyPassphrase
	if len(creds.PKCS12) > 0 {
		var err error
		certPEM, keyPEM, err = afip.DecodePKCS12(creds.PKCS12, creds.KeyPassphrase)
		if err != nil {
			return fail("PKCS#12 bundle cannot be opened", err)
		}
		// The unpacked key is stored unencrypted; the sealer protects it at rest.
		passphrase = ""
	}

	cuit := fiscal.NormalizeCUIT(creds.CUIT)
	if cuit == "" {
		if cert, err := afip.ParseCertificate(certPEM); err == nil {
			cuit = afip.CUITFromCertificate(cert)
		}
	}

	cfg := fiscal.FiscalConfig{
		TenantID:       tenantID,
		Environment:    creds.Environment,
		CertificatePEM: strings.TrimSpace(certPEM) + "\n",
		PrivateKeyPEM:  strings.TrimSpace(keyPEM) + "\n",
		KeyPassphrase:  passphrase,
		CUIT:           cuit,
		Status:         fiscal.StatusPendingSetup,
		UpdatedAt:      a.now(),
	}

	signer, err := afip.LoadSigner(cfg)
	if err != nil {
		return fiscal.ConfigSummary{}, fiscal.WithContext(err, op, tenantID, "")
	}
	if certCUIT := afip.CUITFromCertificate(signer.Certificate); certCUIT != "" && certCUIT != cuit {
		return fail(fmt.Sprintf("certificate was issued to CUIT %s, not %s", certCUIT, cuit), nil)
	}
	info, _ := afip.ValidateCertificate(cfg.CertificatePEM, a.now())
	if info.IsExpired {
		return fail(fmt.Sprintf("certificate expired on %s", info.ValidTo.Format(time.DateOnly)), nil)
	}

	if err := a.store.Save(ctx, cfg); err != nil {
		return fiscal.ConfigSummary{}, fmt.Errorf("save fiscal config tenant=%s: %w", tenantID, err)
	}
	a.cache.Clear(tenantID)
	a.log.Info("Fiscal credentials configured",
		"tenant_id", tenantID,
		"environment", cfg.Environment,
		"cuit", cuit,
		"certificate_expires", info.ValidTo,
	)

	return summarize(cfg, a.now()), nil
}

// Describe returns the tenant's configuration without secrets.
func (a *Authority) Describe(ctx context.Context, tenantID string) (fiscal.ConfigSummary, error) {
	cfg, err := a.store.Get(ctx, tenantID)
	if err != nil {
		if errors.Is(err, fiscal.ErrNotFound) {
			return fiscal.ConfigSummary{}, err
		}
		return fiscal.ConfigSummary{}, fmt.Errorf("load fiscal config tenant=%s: %w", tenantID, err)
	}
	return summarize(*cfg, a.now()), nil
}

func summarize(cfg fiscal.FiscalConfig, now time.Time) fiscal.ConfigSummary {
	summary := fiscal.ConfigSummary{
		TenantID:    cfg.TenantID,
		Environment: cfg.Environment,
		CUIT:        cfg.CUIT,
		Status:      cfg.Status,
		LastError:   cfg.LastError,
		UpdatedAt:   cfg.UpdatedAt,
	}
	if !cfg.Ticket.IsZero() {
		expires := cfg.Ticket.ExpiresAt
		summary.TicketExpiresAt = &expires
	}
	if info, err := afip.ValidateCertificate(cfg.CertificatePEM, now); err == nil {
		summary.Certificate = &info
	}
	return summary
}
