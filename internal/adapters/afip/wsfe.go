package afip

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
)

const (
	opLastAuthorized = "FECompUltimoAutorizado"
	opRequestCAE     = "FECAESolicitar"
	opConsult        = "FECompConsultar"
	opSalesPoints    = "FEParamGetPtosVenta"
	opDummy          = "FEDummy"

	dateLayout      = "20060102"
	timestampLayout = "20060102150405"
)

// WSFE error codes with a meaning beyond "protocol error".
const (
	codeInvalidCredentials = 600
	codeCUITNotInTicket    = 601
	codeNoResults          = 602
)

// InvoiceClient executes WSFEv1 operations for a tenant using an access ticket.
type InvoiceClient struct {
	transport *transport
	directory Directory
	now       func() time.Time
}

// NewInvoiceClient creates a new WSFEv1 client.
func NewInvoiceClient(opts Options) *InvoiceClient {
	opts = opts.withDefaults()
	return &InvoiceClient{
		transport: newTransport(opts),
		directory: opts.Directory,
		now:       opts.Now,
	}
}

func (c *InvoiceClient) call(ctx context.Context, env fiscal.Environment, op string, payload any, detach bool, out any) ([]byte, error) {
	endpoints, err := c.directory.Lookup(env)
	if err != nil {
		return nil, err
	}
	raw, err := c.transport.do(ctx, soapCall{
		endpoint: endpoints.WSFE,
		op:       op,
		action:   wsfeNamespace + op,
		payload:  payload,
	}, detach, out)
	if err != nil {
		var fault *Fault
		if errors.As(err, &fault) {
			return raw, &fiscal.Error{Kind: fiscal.KindProtocol, Op: op, Code: fault.ShortCode(), Message: fault.String, Err: fault}
		}
		return raw, err
	}
	return raw, nil
}

func authFor(cfg fiscal.FiscalConfig, ticket fiscal.Ticket) (feAuth, error) {
	cuit, err := strconv.ParseInt(fiscal.NormalizeCUIT(cfg.CUIT), 10, 64)
	if err != nil || cuit == 0 {
		return feAuth{}, configError("build auth", "CUIT is missing or not numeric", err)
	}
	if ticket.IsZero() {
		return feAuth{}, fiscal.NewError(fiscal.KindAuthentication, "build auth", "no access ticket", nil)
	}
	return feAuth{Token: ticket.Token, Sign: ticket.Sign, Cuit: cuit}, nil
}

// remoteErrors converts a top-level Errors block into a typed error. Ticket and
// CUIT mismatches are authentication failures; everything else is a protocol error.
func remoteErrors(op string, errs *feErrors) error {
	if errs == nil || len(errs.Err) == 0 {
		return nil
	}
	first := errs.Err[0]
	kind := fiscal.KindProtocol
	var cause error
	switch first.Code {
	case codeInvalidCredentials, codeCUITNotInTicket:
		kind = fiscal.KindAuthentication
	case codeNoResults:
		cause = fiscal.ErrNotFound
	}
	return &fiscal.Error{
		Kind:    kind,
		Op:      op,
		Code:    strconv.Itoa(first.Code),
		Message: joinCodeMsgs(errs.Err),
		Err:     cause,
	}
}

func joinCodeMsgs(items []feCodeMsg) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, fmt.Sprintf("%d: %s", it.Code, strings.TrimSpace(it.Msg)))
	}
	return strings.Join(parts, "; ")
}

func toObservations(items []feCodeMsg) []fiscal.Observation {
	if len(items) == 0 {
		return nil
	}
	out := make([]fiscal.Observation, 0, len(items))
	for _, it := range items {
		out = append(out, fiscal.Observation{Code: it.Code, Message: strings.TrimSpace(it.Msg)})
	}
	return out
}

// Probe calls FEDummy, which needs no ticket.
func (c *InvoiceClient) Probe(ctx context.Context, env fiscal.Environment) (fiscal.ServiceStatus, error) {
	var resp feDummyResponse
	if _, err := c.call(ctx, env, opDummy, feDummyRequest{}, false, &resp); err != nil {
		return fiscal.ServiceStatus{}, err
	}
	return fiscal.ServiceStatus{
		AppServer:  resp.Result.AppServer,
		DbServer:   resp.Result.DbServer,
		AuthServer: resp.Result.AuthServer,
	}, nil
}

// GetLastAuthorized returns the last number AFIP authorized for the sequence, 0 when none.
func (c *InvoiceClient) GetLastAuthorized(ctx context.Context, cfg fiscal.FiscalConfig, ticket fiscal.Ticket, salesPoint int, docType fiscal.DocumentType) (int64, error) {
	auth, err := authFor(cfg, ticket)
	if err != nil {
		return 0, err
	}

	var resp feCompUltimoAutorizadoResponse
	if _, err := c.call(ctx, cfg.Environment, opLastAuthorized, feCompUltimoAutorizadoRequest{
		Auth:     auth,
		PtoVta:   salesPoint,
		CbteTipo: int(docType),
	}, false, &resp); err != nil {
		return 0, err
	}
	if err := remoteErrors(opLastAuthorized, resp.Result.Errors); err != nil {
		return 0, err
	}
	return resp.Result.CbteNro, nil
}

// RequestAuthorization consumes the next number of the draft's sequence: it reads
// the last authorized number, submits last+1 and interprets the answer. Callers
// must serialize invocations per sequence key.
//
// A rejection is not an error: the returned Outcome has Kind REJECTED and carries
// the burned number. Top-level Errors yield a protocol error.
func (c *InvoiceClient) RequestAuthorization(ctx context.Context, cfg fiscal.FiscalConfig, ticket fiscal.Ticket, draft fiscal.Draft) (fiscal.Outcome, error) {
	if err := draft.Validate(); err != nil {
		return fiscal.Outcome{}, err
	}
	auth, err := authFor(cfg, ticket)
	if err != nil {
		return fiscal.Outcome{}, err
	}

	last, err := c.GetLastAuthorized(ctx, cfg, ticket, draft.SalesPoint, draft.DocumentType)
	if err != nil {
		return fiscal.Outcome{}, err
	}
	candidate := last + 1

	detail, err := buildDetail(draft, candidate)
	if err != nil {
		return fiscal.Outcome{}, err
	}
	req := feCAESolicitarRequest{
		Auth: auth,
		FeCAEReq: feCAERequest{
			FeCabReq: feCabRequest{CantReg: 1, PtoVta: draft.SalesPoint, CbteTipo: int(draft.DocumentType)},
			FeDetReq: feDetRequest{Items: []feCAEDetRequest{detail}},
		},
	}

	if ctx.Err() != nil {
		return fiscal.Outcome{}, fiscal.NewError(fiscal.KindTransient, opRequestCAE, "canceled before dispatch", context.Cause(ctx))
	}

	var resp feCAESolicitarResponse
	raw, err := c.call(ctx, cfg.Environment, opRequestCAE, req, true, &resp)
	if err != nil {
		return fiscal.Outcome{}, err
	}

	outcome, err := interpretSubmission(draft.Key(), last, candidate, &resp, c.now())
	if err != nil {
		return fiscal.Outcome{}, err
	}
	outcome.RawResponse = raw
	return outcome, nil
}

func interpretSubmission(key fiscal.SequenceKey, last, candidate int64, resp *feCAESolicitarResponse, now time.Time) (fiscal.Outcome, error) {
	result := resp.Result
	if err := remoteErrors(opRequestCAE, result.Errors); err != nil {
		return fiscal.Outcome{}, err
	}
	if len(result.FeDetResp.Items) != 1 {
		return fiscal.Outcome{}, fiscal.NewError(fiscal.KindProtocol, opRequestCAE,
			fmt.Sprintf("expected 1 detail result, got %d", len(result.FeDetResp.Items)), nil)
	}
	det := result.FeDetResp.Items[0]
	if det.CbteDesde != 0 && det.CbteDesde != candidate {
		return fiscal.Outcome{}, fiscal.NewError(fiscal.KindProtocol, opRequestCAE,
			fmt.Sprintf("AFIP answered for number %d, submitted %d", det.CbteDesde, candidate), nil)
	}

	processed := now
	if t, err := time.ParseInLocation(timestampLayout, strings.TrimSpace(result.FeCabResp.FchProceso), fiscal.Location); err == nil {
		processed = t
	}

	outcome := fiscal.Outcome{
		Key:                  key,
		LastAuthorizedBefore: last,
		SequenceNumber:       candidate,
		FullNumber:           fiscal.FullNumber(key.SalesPoint, candidate),
		ProcessedAt:          processed,
		Events:               eventsOf(result.Events),
	}
	if det.Observaciones != nil {
		outcome.Observations = toObservations(det.Observaciones.Obs)
	}

	switch strings.ToUpper(strings.TrimSpace(det.Resultado)) {
	case "A":
		if strings.TrimSpace(det.CAE) == "" {
			return fiscal.Outcome{}, fiscal.NewError(fiscal.KindProtocol, opRequestCAE, "approved without CAE", nil)
		}
		expires, err := time.ParseInLocation(dateLayout, strings.TrimSpace(det.CAEFchVto), fiscal.Location)
		if err != nil {
			return fiscal.Outcome{}, fiscal.NewError(fiscal.KindProtocol, opRequestCAE, "invalid CAEFchVto", err)
		}
		outcome.Kind = fiscal.OutcomeApproved
		if strings.EqualFold(strings.TrimSpace(result.FeCabResp.Reproceso), "S") {
			outcome.Kind = fiscal.OutcomeApprovedReprocessed
		}
		outcome.CAE = strings.TrimSpace(det.CAE)
		// CAEFchVto is a calendar date; the code stays valid through its last second.
		outcome.CAEExpiresAt = expires.Add(24*time.Hour - time.Second)
	case "R":
		outcome.Kind = fiscal.OutcomeRejected
	default:
		return fiscal.Outcome{}, fiscal.NewError(fiscal.KindProtocol, opRequestCAE,
			fmt.Sprintf("unexpected Resultado %q", det.Resultado), nil)
	}
	return outcome, nil
}

func eventsOf(events *feEvents) []fiscal.Observation {
	if events == nil {
		return nil
	}
	return toObservations(events.Evt)
}

func amount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(fiscal.Location).Format(dateLayout)
}

func buildDetail(d fiscal.Draft, number int64) (feCAEDetRequest, error) {
	det := feCAEDetRequest{
		Concepto:               int(d.Concept),
		DocTipo:                d.ReceiverDocType,
		DocNro:                 d.ReceiverDocNumber,
		CbteDesde:              number,
		CbteHasta:              number,
		CbteFch:                formatDate(d.Date),
		ImpTotal:               amount(d.Total),
		ImpTotConc:             amount(d.NonTaxed),
		ImpNeto:                amount(d.Net),
		ImpOpEx:                amount(d.Exempt),
		ImpTrib:                amount(d.OtherTaxes),
		ImpIVA:                 amount(d.VAT),
		MonID:                  d.CurrencyCode(),
		MonCotiz:               d.Rate().String(),
		CondicionIVAReceptorID: d.ReceiverVATStatus,
	}
	if d.Concept.RequiresServicePeriod() {
		det.FchServDesde = formatDate(d.ServiceFrom)
		det.FchServHasta = formatDate(d.ServiceTo)
		det.FchVtoPago = formatDate(d.PaymentDue)
	}

	if !d.DocumentType.IsClassC() && len(d.VATLines) > 0 {
		iva := &feAlicuotas{}
		for _, line := range d.VATLines {
			id, ok := fiscal.VATRateID(line.Rate)
			if !ok {
				return feCAEDetRequest{}, fiscal.NewError(fiscal.KindValidation, opRequestCAE,
					fmt.Sprintf("rate %s is not a legal VAT rate", line.Rate), nil)
			}
			iva.Items = append(iva.Items, feAlicIva{ID: id, BaseImp: amount(line.Base), Importe: amount(line.Amount)})
		}
		det.Iva = iva
	}

	if len(d.Taxes) > 0 {
		tributos := &feTributos{}
		for _, tax := range d.Taxes {
			tributos.Items = append(tributos.Items, feTributo{
				ID:      tax.ID,
				Desc:    tax.Description,
				BaseImp: amount(tax.Base),
				Alic:    amount(tax.Rate),
				Importe: amount(tax.Amount),
			})
		}
		det.Tributos = tributos
	}

	if len(d.Associated) > 0 {
		asoc := &feCbtesAsoc{}
		for _, a := range d.Associated {
			asoc.Items = append(asoc.Items, feCbteAsoc{
				Tipo:    int(a.Type),
				PtoVta:  a.SalesPoint,
				Nro:     a.Number,
				Cuit:    fiscal.NormalizeCUIT(a.CUIT),
				CbteFch: formatDate(a.Date),
			})
		}
		det.CbtesAsoc = asoc
	}
	return det, nil
}

// Consult returns AFIP's stored copy of a document. A missing document yields an
// error wrapping fiscal.ErrNotFound.
func (c *InvoiceClient) Consult(ctx context.Context, cfg fiscal.FiscalConfig, ticket fiscal.Ticket, salesPoint int, docType fiscal.DocumentType, number int64) (fiscal.DocumentSnapshot, error) {
	auth, err := authFor(cfg, ticket)
	if err != nil {
		return fiscal.DocumentSnapshot{}, err
	}

	var resp feCompConsultarResponse
	if _, err := c.call(ctx, cfg.Environment, opConsult, feCompConsultarRequest{
		Auth:          auth,
		FeCompConsReq: feCompConsFilter{CbteTipo: int(docType), CbteNro: number, PtoVta: salesPoint},
	}, false, &resp); err != nil {
		return fiscal.DocumentSnapshot{}, err
	}
	if err := remoteErrors(opConsult, resp.Result.Errors); err != nil {
		return fiscal.DocumentSnapshot{}, err
	}
	r := resp.Result.ResultGet
	if r == nil {
		return fiscal.DocumentSnapshot{}, &fiscal.Error{Kind: fiscal.KindProtocol, Op: opConsult, Message: "empty ResultGet", Err: fiscal.ErrNotFound}
	}

	snap := fiscal.DocumentSnapshot{
		SalesPoint:        r.PtoVta,
		DocumentType:      fiscal.DocumentType(r.CbteTipo),
		Number:            r.CbteDesde,
		Concept:           fiscal.Concept(r.Concepto),
		ReceiverDocType:   r.DocTipo,
		ReceiverDocNumber: r.DocNro,
		Total:             parseAmount(r.ImpTotal),
		NonTaxed:          parseAmount(r.ImpTotConc),
		Net:               parseAmount(r.ImpNeto),
		Exempt:            parseAmount(r.ImpOpEx),
		OtherTaxes:        parseAmount(r.ImpTrib),
		VAT:               parseAmount(r.ImpIVA),
		Currency:          r.MonID,
		ExchangeRate:      parseAmount(r.MonCotiz),
		AuthorizationCode: r.CodAutorizacion,
		EmissionKind:      r.EmisionTipo,
		Result:            r.Resultado,
	}
	snap.IssueDate, _ = time.ParseInLocation(dateLayout, r.CbteFch, fiscal.Location)
	snap.ExpiresAt, _ = time.ParseInLocation(dateLayout, r.FchVto, fiscal.Location)
	snap.ProcessedAt, _ = time.ParseInLocation(timestampLayout, r.FchProceso, fiscal.Location)
	if r.Iva != nil {
		for _, a := range r.Iva.Items {
			rate, _ := fiscal.VATRateByID(a.ID)
			snap.VATLines = append(snap.VATLines, fiscal.VATLine{Rate: rate, Base: parseAmount(a.BaseImp), Amount: parseAmount(a.Importe)})
		}
	}
	if r.Observaciones != nil {
		snap.Observations = toObservations(r.Observaciones.Obs)
	}
	return snap, nil
}

func parseAmount(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// SalesPoints lists the tenant's sales points registered at AFIP. AFIP answers
// code 602 when none exist; that is an empty list.
func (c *InvoiceClient) SalesPoints(ctx context.Context, cfg fiscal.FiscalConfig, ticket fiscal.Ticket) ([]fiscal.SalesPoint, error) {
	auth, err := authFor(cfg, ticket)
	if err != nil {
		return nil, err
	}

	var resp feParamGetPtosVentaResponse
	if _, err := c.call(ctx, cfg.Environment, opSalesPoints, feParamGetPtosVentaRequest{Auth: auth}, false, &resp); err != nil {
		return nil, err
	}
	if err := remoteErrors(opSalesPoints, resp.Result.Errors); err != nil {
		if errors.Is(err, fiscal.ErrNotFound) {
			return []fiscal.SalesPoint{}, nil
		}
		return nil, err
	}

	points := make([]fiscal.SalesPoint, 0, len(resp.Result.ResultGet.Items))
	for _, p := range resp.Result.ResultGet.Items {
		point := fiscal.SalesPoint{
			TenantID:     cfg.TenantID,
			Number:       p.Nro,
			EmissionKind: emissionKind(p.EmisionTipo),
			Blocked:      strings.EqualFold(strings.TrimSpace(p.Bloqueado), "S"),
		}
		if t, err := time.ParseInLocation(dateLayout, strings.TrimSpace(p.FchBaja), fiscal.Location); err == nil {
			point.DeregisteredAt = &t
		}
		point.Active = !point.Blocked && point.DeregisteredAt == nil
		points = append(points, point)
	}
	return points, nil
}

// emissionKind maps descriptions like "CAE - Ws Factura Electronica" or "CAEA".
func emissionKind(desc string) fiscal.EmissionKind {
	if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(desc)), "CAEA") {
		return fiscal.EmissionCAEA
	}
	return fiscal.EmissionCAE
}
