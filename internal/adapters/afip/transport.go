package afip

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
)

// Observer receives one sample per remote call. The metrics package implements it.
type Observer interface {
	ObserveCall(op, outcome string, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveCall(string, string, time.Duration) {}

// Options configures the WSAA and WSFE clients.
type Options struct {
	Directory  Directory
	HTTPClient HTTPClient
	Breaker    *CircuitBreaker
	Limiter    *RequestLimiter
	Observer   Observer
	Logger     *slog.Logger
	// SubmitTimeout bounds an FECAESolicitar exchange once it runs detached from the caller.
	SubmitTimeout time.Duration
	Now           func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Directory == nil {
		o.Directory = DefaultDirectory()
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if o.Breaker == nil {
		o.Breaker = NewCircuitBreaker(5, 30*time.Second)
	}
	if o.Limiter == nil {
		o.Limiter = NewRequestLimiter(20, 0)
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.SubmitTimeout <= 0 {
		o.SubmitTimeout = 90 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// transport runs SOAP exchanges through the limiter and circuit breaker.
type transport struct {
	client        HTTPClient
	breaker       *CircuitBreaker
	limiter       *RequestLimiter
	observer      Observer
	log           *slog.Logger
	submitTimeout time.Duration
}

func newTransport(o Options) *transport {
	return &transport{
		client:        o.HTTPClient,
		breaker:       o.Breaker,
		limiter:       o.Limiter,
		observer:      o.Observer,
		log:           o.Logger,
		submitTimeout: o.SubmitTimeout,
	}
}

// do performs call and decodes its body into out. With detach set, the exchange
// ignores caller cancellation once the limiter admitted it: a dispatched
// FECAESolicitar may still burn the number on AFIP's side.
func (t *transport) do(ctx context.Context, call soapCall, detach bool, out any) ([]byte, error) {
	release, err := t.limiter.Acquire(ctx)
	if err != nil {
		if cause := context.Cause(ctx); cause != nil {
			err = cause
		}
		return nil, fiscal.NewError(fiscal.KindTransient, call.op, "canceled before dispatch", err)
	}
	defer release()

	callCtx := ctx
	if detach {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), t.submitTimeout)
		defer cancel()
	}

	start := time.Now()
	var raw []byte
	err = t.breaker.Execute(call.op, func() error {
		content, body, err := exchange(callCtx, t.client, t.log, call)
		raw = body
		if err != nil {
			return err
		}
		return decodeBody(call.op, content, out)
	})
	t.observer.ObserveCall(call.op, outcomeLabel(err), time.Since(start))
	return raw, err
}

func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var fault *Fault
	if errors.As(err, &fault) {
		return "fault"
	}
	return fiscal.KindOf(err).String()
}
