package testutil

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.mozilla.org/pkcs7"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
)

// CAESubmission is what the fake AFIP received in one FECAESolicitar call.
type CAESubmission struct {
	SalesPoint   int
	DocumentType int
	Number       int64
	Concept      int
	DocTipo      int
	DocNro       int64
	ImpTotal     string
	ImpNeto      string
	ImpIVA       string
	MonID        string
	AlicIvaIDs   []int
}

// CAEDecision is the fake's verdict on a submission.
type CAEDecision struct {
	Result       string // "A" or "R"
	Observations []fiscal.Observation
	Errors       []fiscal.Observation // top-level Errors block
	Reprocessed  bool
}

// FakeSalesPoint is one entry of FEParamGetPtosVenta.
type FakeSalesPoint struct {
	Number      int
	EmisionTipo string
	Blocked     bool
	FchBaja     string
}

// FakeAFIP emulates the WSAA and WSFEv1 endpoints. Both rejections and approvals
// consume the submitted number.
type FakeAFIP struct {
	Server *httptest.Server

	mu            sync.Mutex
	now           func() time.Time
	ticketTTL     time.Duration
	loginFault    string
	unavailable   int
	logins        int
	issued        map[string]string
	lastNumbers   map[[2]int]int64
	submissions   []CAESubmission
	approved      map[[3]int64]CAESubmission
	decide        func(CAESubmission) CAEDecision
	beforeSubmit  func(CAESubmission)
	salesPoints   []FakeSalesPoint
	signedService string
}

// NewFakeAFIP starts a fake AFIP server; it is closed with the test.
func NewFakeAFIP(t testing.TB) *FakeAFIP {
	f := &FakeAFIP{
		now:         time.Now,
		ticketTTL:   12 * time.Hour,
		issued:      map[string]string{},
		lastNumbers: map[[2]int]int64{},
		approved:    map[[3]int64]CAESubmission{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/services/LoginCms", f.handleWSAA)
	mux.HandleFunc("/wsfev1/service.asmx", f.handleWSFE)
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)
	return f
}

// WSAAURL is the fake login endpoint.
func (f *FakeAFIP) WSAAURL() string { return f.Server.URL + "/ws/services/LoginCms" }

// WSFEURL is the fake invoicing endpoint.
func (f *FakeAFIP) WSFEURL() string { return f.Server.URL + "/wsfev1/service.asmx" }

// SetClock makes issued tickets expire relative to now().
func (f *FakeAFIP) SetClock(now func() time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

// SetTicketTTL sets the lifetime of issued tickets.
func (f *FakeAFIP) SetTicketTTL(ttl time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticketTTL = ttl
}

// SetLoginFault makes loginCms answer with a SOAP fault until cleared with "".
func (f *FakeAFIP) SetLoginFault(message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginFault = message
}

// FailNext makes the next n calls answer 503 without a body.
func (f *FakeAFIP) FailNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unavailable = n
}

// SetLastNumber seeds FECompUltimoAutorizado for a sequence.
func (f *FakeAFIP) SetLastNumber(salesPoint, docType int, number int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastNumbers[[2]int{salesPoint, docType}] = number
}

// LastNumber returns the last consumed number of a sequence.
func (f *FakeAFIP) LastNumber(salesPoint, docType int) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastNumbers[[2]int{salesPoint, docType}]
}

// SetDecision overrides the default approve-everything verdict.
func (f *FakeAFIP) SetDecision(fn func(CAESubmission) CAEDecision) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decide = fn
}

// BeforeSubmit runs fn (outside the fake's lock) when FECAESolicitar arrives.
func (f *FakeAFIP) BeforeSubmit(fn func(CAESubmission)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beforeSubmit = fn
}

// SetSalesPoints sets the FEParamGetPtosVenta answer.
func (f *FakeAFIP) SetSalesPoints(points []FakeSalesPoint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.salesPoints = points
}

// Logins returns how many successful loginCms calls were served.
func (f *FakeAFIP) Logins() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins
}

// Submissions returns every FECAESolicitar received, in arrival order.
func (f *FakeAFIP) Submissions() []CAESubmission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]CAESubmission(nil), f.submissions...)
}

// SignedService returns the service named in the last verified TRA.
func (f *FakeAFIP) SignedService() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signedService
}

func (f *FakeAFIP) takeUnavailable(w http.ResponseWriter) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable > 0 {
		f.unavailable--
		w.WriteHeader(http.StatusServiceUnavailable)
		return true
	}
	return false
}

type fakeEnvelope struct {
	Body struct {
		Inner []byte `xml:",innerxml"`
	} `xml:"Body"`
}

func readOperation(r *http.Request) (string, []byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return "", nil, err
	}
	var env fakeEnvelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return "", nil, err
	}
	dec := xml.NewDecoder(bytes.NewReader(env.Body.Inner))
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", nil, err
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se.Name.Local, env.Body.Inner, nil
		}
	}
}

func writeSOAP(w http.ResponseWriter, status int, inner string) {
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<?xml version="1.0" encoding="utf-8"?><soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body>%s</soap:Body></soap:Envelope>`, inner)
}

func escape(s string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

func (f *FakeAFIP) handleWSAA(w http.ResponseWriter, r *http.Request) {
	if f.takeUnavailable(w) {
		return
	}
	op, inner, err := readOperation(r)
	if err != nil || op != "loginCms" {
		writeSOAP(w, http.StatusInternalServerError, `<soap:Fault><faultcode>soap:Client</faultcode><faultstring>bad request</faultstring></soap:Fault>`)
		return
	}
	var req struct {
		In0 string `xml:"in0"`
	}
	_ = xml.Unmarshal(inner, &req)

	f.mu.Lock()
	fault := f.loginFault
	f.mu.Unlock()
	if fault != "" {
		writeSOAP(w, http.StatusInternalServerError, `<soapenv:Fault xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"><faultcode xmlns:ns1="http://xml.apache.org/axis/">ns1:cms.cert.untrusted</faultcode><faultstring>`+escape(fault)+`</faultstring></soapenv:Fault>`)
		return
	}

	service, err := verifyTRA(req.In0)
	if err != nil {
		writeSOAP(w, http.StatusInternalServerError, `<soapenv:Fault xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"><faultcode>ns1:cms.bad</faultcode><faultstring>`+escape(err.Error())+`</faultstring></soapenv:Fault>`)
		return
	}

	f.mu.Lock()
	f.logins++
	f.signedService = service
	token := fmt.Sprintf("token-%d", f.logins)
	sign := fmt.Sprintf("sign-%d", f.logins)
	f.issued[token] = sign
	now := f.now().In(fiscal.Location)
	expires := now.Add(f.ticketTTL)
	f.mu.Unlock()

	ticket := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<loginTicketResponse version="1.0"><header><source>CN=wsaahomo, O=AFIP, C=AR</source><destination>SERIALNUMBER=CUIT %s</destination><uniqueId>%d</uniqueId><generationTime>%s</generationTime><expirationTime>%s</expirationTime></header><credentials><token>%s</token><sign>%s</sign></credentials></loginTicketResponse>`,
		TestCUIT, now.Unix(), now.Format("2006-01-02T15:04:05.000-07:00"), expires.Format("2006-01-02T15:04:05.000-07:00"), token, sign)

	writeSOAP(w, http.StatusOK, `<loginCmsResponse xmlns="http://wsaa.view.sua.dvadac.desein.afip.gov"><loginCmsReturn>`+escape(ticket)+`</loginCmsReturn></loginCmsResponse>`)
}

// verifyTRA checks the CMS signature and returns the requested service.
func verifyTRA(in0 string) (string, error) {
	der, err := base64.StdEncoding.DecodeString(strings.TrimSpace(in0))
	if err != nil {
		return "", fmt.Errorf("in0 is not base64: %w", err)
	}
	p7, err := pkcs7.Parse(der)
	if err != nil {
		return "", fmt.Errorf("in0 is not CMS: %w", err)
	}
	if err := p7.Verify(); err != nil {
		return "", fmt.Errorf("signature does not verify: %w", err)
	}
	var tra struct {
		Service string `xml:"service"`
	}
	if err := xml.Unmarshal(p7.Content, &tra); err != nil {
		return "", fmt.Errorf("content is not a TRA: %w", err)
	}
	return tra.Service, nil
}

type fakeAuth struct {
	Token string `xml:"Auth>Token"`
	Sign  string `xml:"Auth>Sign"`
}

func (f *FakeAFIP) authorized(a fakeAuth) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	sign, ok := f.issued[a.Token]
	return ok && sign == a.Sign
}

func errorsBlock(errs []fiscal.Observation) string {
	if len(errs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("<Errors>")
	for _, e := range errs {
		fmt.Fprintf(&b, "<Err><Code>%d</Code><Msg>%s</Msg></Err>", e.Code, escape(e.Message))
	}
	b.WriteString("</Errors>")
	return b.String()
}

var invalidCredentials = []fiscal.Observation{{Code: 600, Message: "ValidacionDeToken: No validaron las credenciales"}}

func (f *FakeAFIP) handleWSFE(w http.ResponseWriter, r *http.Request) {
	if f.takeUnavailable(w) {
		return
	}
	op, inner, err := readOperation(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	switch op {
	case "FEDummy":
		writeSOAP(w, http.StatusOK, `<FEDummyResponse xmlns="http://ar.gov.afip.dif.FEV1/"><FEDummyResult><AppServer>OK</AppServer><DbServer>OK</DbServer><AuthServer>OK</AuthServer></FEDummyResult></FEDummyResponse>`)
	case "FECompUltimoAutorizado":
		f.lastAuthorized(w, inner)
	case "FECAESolicitar":
		f.requestCAE(w, inner)
	case "FECompConsultar":
		f.consult(w, inner)
	case "FEParamGetPtosVenta":
		f.listSalesPoints(w, inner)
	default:
		writeSOAP(w, http.StatusInternalServerError, `<soap:Fault><faultcode>soap:Client</faultcode><faultstring>unknown operation `+escape(op)+`</faultstring></soap:Fault>`)
	}
}

func (f *FakeAFIP) lastAuthorized(w http.ResponseWriter, inner []byte) {
	var req struct {
		fakeAuth
		PtoVta   int `xml:"PtoVta"`
		CbteTipo int `xml:"CbteTipo"`
	}
	_ = xml.Unmarshal(inner, &req)
	if !f.authorized(req.fakeAuth) {
		writeSOAP(w, http.StatusOK, `<FECompUltimoAutorizadoResponse xmlns="http://ar.gov.afip.dif.FEV1/"><FECompUltimoAutorizadoResult><PtoVta>0</PtoVta><CbteTipo>0</CbteTipo><CbteNro>0</CbteNro>`+errorsBlock(invalidCredentials)+`</FECompUltimoAutorizadoResult></FECompUltimoAutorizadoResponse>`)
		return
	}
	last := f.LastNumber(req.PtoVta, req.CbteTipo)
	writeSOAP(w, http.StatusOK, fmt.Sprintf(`<FECompUltimoAutorizadoResponse xmlns="http://ar.gov.afip.dif.FEV1/"><FECompUltimoAutorizadoResult><PtoVta>%d</PtoVta><CbteTipo>%d</CbteTipo><CbteNro>%d</CbteNro></FECompUltimoAutorizadoResult></FECompUltimoAutorizadoResponse>`,
		req.PtoVta, req.CbteTipo, last))
}

func (f *FakeAFIP) requestCAE(w http.ResponseWriter, inner []byte) {
	var req struct {
		fakeAuth
		PtoVta   int `xml:"FeCAEReq>FeCabReq>PtoVta"`
		CbteTipo int `xml:"FeCAEReq>FeCabReq>CbteTipo"`
		Det      struct {
			Concepto  int    `xml:"Concepto"`
			DocTipo   int    `xml:"DocTipo"`
			DocNro    int64  `xml:"DocNro"`
			CbteDesde int64  `xml:"CbteDesde"`
			CbteFch   string `xml:"CbteFch"`
			ImpTotal  string `xml:"ImpTotal"`
			ImpNeto   string `xml:"ImpNeto"`
			ImpIVA    string `xml:"ImpIVA"`
			MonID     string `xml:"MonId"`
			Iva       []int  `xml:"Iva>AlicIva>Id"`
		} `xml:"FeCAEReq>FeDetReq>FECAEDetRequest"`
	}
	_ = xml.Unmarshal(inner, &req)

	sub := CAESubmission{
		SalesPoint:   req.PtoVta,
		DocumentType: req.CbteTipo,
		Number:       req.Det.CbteDesde,
		Concept:      req.Det.Concepto,
		DocTipo:      req.Det.DocTipo,
		DocNro:       req.Det.DocNro,
		ImpTotal:     req.Det.ImpTotal,
		ImpNeto:      req.Det.ImpNeto,
		ImpIVA:       req.Det.ImpIVA,
		MonID:        req.Det.MonID,
		AlicIvaIDs:   req.Det.Iva,
	}

	if !f.authorized(req.fakeAuth) {
		writeSOAP(w, http.StatusOK, `<FECAESolicitarResponse xmlns="http://ar.gov.afip.dif.FEV1/"><FECAESolicitarResult>`+errorsBlock(invalidCredentials)+`</FECAESolicitarResult></FECAESolicitarResponse>`)
		return
	}

	f.mu.Lock()
	hook := f.beforeSubmit
	f.mu.Unlock()
	if hook != nil {
		hook(sub)
	}

	f.mu.Lock()
	f.submissions = append(f.submissions, sub)
	key := [2]int{sub.SalesPoint, sub.DocumentType}
	decision := CAEDecision{Result: "A"}
	if f.decide != nil {
		decision = f.decide(sub)
	}
	if len(decision.Errors) == 0 && sub.Number != f.lastNumbers[key]+1 {
		decision = CAEDecision{Errors: []fiscal.Observation{{Code: 10016, Message: "El numero o fecha del comprobante no se corresponde con el proximo a autorizar"}}}
	}
	now := f.now().In(fiscal.Location)
	if len(decision.Errors) == 0 {
		f.lastNumbers[key] = sub.Number
		if decision.Result == "A" {
			f.approved[[3]int64{int64(sub.SalesPoint), int64(sub.DocumentType), sub.Number}] = sub
		}
	}
	f.mu.Unlock()

	if len(decision.Errors) > 0 {
		writeSOAP(w, http.StatusOK, fmt.Sprintf(`<FECAESolicitarResponse xmlns="http://ar.gov.afip.dif.FEV1/"><FECAESolicitarResult><FeCabResp><Cuit>%s</Cuit><PtoVta>%d</PtoVta><CbteTipo>%d</CbteTipo><FchProceso>%s</FchProceso><CantReg>1</CantReg><Resultado>R</Resultado><Reproceso>N</Reproceso></FeCabResp>%s</FECAESolicitarResult></FECAESolicitarResponse>`,
			TestCUIT, sub.SalesPoint, sub.DocumentType, now.Format("20060102150405"), errorsBlock(decision.Errors)))
		return
	}

	reproceso := "N"
	if decision.Reprocessed {
		reproceso = "S"
	}
	cae, caeVto := "", ""
	if decision.Result == "A" {
		cae = fmt.Sprintf("7%013d", sub.Number)
		caeVto = now.AddDate(0, 0, 10).Format("20060102")
	}
	var obs strings.Builder
	if len(decision.Observations) > 0 {
		obs.WriteString("<Observaciones>")
		for _, o := range decision.Observations {
			fmt.Fprintf(&obs, "<Obs><Code>%d</Code><Msg>%s</Msg></Obs>", o.Code, escape(o.Message))
		}
		obs.WriteString("</Observaciones>")
	}

	writeSOAP(w, http.StatusOK, fmt.Sprintf(`<FECAESolicitarResponse xmlns="http://ar.gov.afip.dif.FEV1/"><FECAESolicitarResult><FeCabResp><Cuit>%s</Cuit><PtoVta>%d</PtoVta><CbteTipo>%d</CbteTipo><FchProceso>%s</FchProceso><CantReg>1</CantReg><Resultado>%s</Resultado><Reproceso>%s</Reproceso></FeCabResp><FeDetResp><FECAEDetResponse><Concepto>%d</Concepto><DocTipo>%d</DocTipo><DocNro>%d</DocNro><CbteDesde>%d</CbteDesde><CbteHasta>%d</CbteHasta><CbteFch>%s</CbteFch><Resultado>%s</Resultado>%s<CAE>%s</CAE><CAEFchVto>%s</CAEFchVto></FECAEDetResponse></FeDetResp></FECAESolicitarResult></FECAESolicitarResponse>`,
		TestCUIT, sub.SalesPoint, sub.DocumentType, now.Format("20060102150405"), decision.Result, reproceso,
		sub.Concept, sub.DocTipo, sub.DocNro, sub.Number, sub.Number, req.Det.CbteFch, decision.Result, obs.String(), cae, caeVto))
}

func (f *FakeAFIP) consult(w http.ResponseWriter, inner []byte) {
	var req struct {
		fakeAuth
		CbteTipo int   `xml:"FeCompConsReq>CbteTipo"`
		CbteNro  int64 `xml:"FeCompConsReq>CbteNro"`
		PtoVta   int   `xml:"FeCompConsReq>PtoVta"`
	}
	_ = xml.Unmarshal(inner, &req)
	if !f.authorized(req.fakeAuth) {
		writeSOAP(w, http.StatusOK, `<FECompConsultarResponse xmlns="http://ar.gov.afip.dif.FEV1/"><FECompConsultarResult>`+errorsBlock(invalidCredentials)+`</FECompConsultarResult></FECompConsultarResponse>`)
		return
	}

	f.mu.Lock()
	sub, ok := f.approved[[3]int64{int64(req.PtoVta), int64(req.CbteTipo), req.CbteNro}]
	f.mu.Unlock()
	if !ok {
		writeSOAP(w, http.StatusOK, `<FECompConsultarResponse xmlns="http://ar.gov.afip.dif.FEV1/"><FECompConsultarResult>`+errorsBlock([]fiscal.Observation{{Code: 602, Message: "No existen datos en nuestros registros para los parametros ingresados."}})+`</FECompConsultarResult></FECompConsultarResponse>`)
		return
	}

	writeSOAP(w, http.StatusOK, fmt.Sprintf(`<FECompConsultarResponse xmlns="http://ar.gov.afip.dif.FEV1/"><FECompConsultarResult><ResultGet><Concepto>%d</Concepto><DocTipo>%d</DocTipo><DocNro>%d</DocNro><CbteDesde>%d</CbteDesde><CbteHasta>%d</CbteHasta><CbteFch>20261019</CbteFch><ImpTotal>%s</ImpTotal><ImpTotConc>0</ImpTotConc><ImpNeto>%s</ImpNeto><ImpOpEx>0</ImpOpEx><ImpTrib>0</ImpTrib><ImpIVA>%s</ImpIVA><MonId>%s</MonId><MonCotiz>1</MonCotiz><Resultado>A</Resultado><CodAutorizacion>7%013d</CodAutorizacion><EmisionTipo>CAE</EmisionTipo><FchVto>20261029</FchVto><FchProceso>20261019120000</FchProceso><PtoVta>%d</PtoVta><CbteTipo>%d</CbteTipo></ResultGet></FECompConsultarResult></FECompConsultarResponse>`,
		sub.Concept, sub.DocTipo, sub.DocNro, sub.Number, sub.Number, sub.ImpTotal, sub.ImpNeto, sub.ImpIVA, sub.MonID, sub.Number, sub.SalesPoint, sub.DocumentType))
}

func (f *FakeAFIP) listSalesPoints(w http.ResponseWriter, inner []byte) {
	var req struct {
		fakeAuth
	}
	_ = xml.Unmarshal(inner, &req)
	if !f.authorized(req.fakeAuth) {
		writeSOAP(w, http.StatusOK, `<FEParamGetPtosVentaResponse xmlns="http://ar.gov.afip.dif.FEV1/"><FEParamGetPtosVentaResult>`+errorsBlock(invalidCredentials)+`</FEParamGetPtosVentaResult></FEParamGetPtosVentaResponse>`)
		return
	}

	f.mu.Lock()
	points := append([]FakeSalesPoint(nil), f.salesPoints...)
	f.mu.Unlock()

	if len(points) == 0 {
		writeSOAP(w, http.StatusOK, `<FEParamGetPtosVentaResponse xmlns="http://ar.gov.afip.dif.FEV1/"><FEParamGetPtosVentaResult><ResultGet/>`+errorsBlock([]fiscal.Observation{{Code: 602, Message: "Sin Resultados"}})+`</FEParamGetPtosVentaResult></FEParamGetPtosVentaResponse>`)
		return
	}

	var b strings.Builder
	for _, p := range points {
		blocked := "N"
		if p.Blocked {
			blocked = "S"
		}
		baja := p.FchBaja
		if baja == "" {
			baja = "NULL"
		}
		fmt.Fprintf(&b, "<PtoVenta><Nro>%d</Nro><EmisionTipo>%s</EmisionTipo><Bloqueado>%s</Bloqueado><FchBaja>%s</FchBaja></PtoVenta>", p.Number, escape(p.EmisionTipo), blocked, baja)
	}
	writeSOAP(w, http.StatusOK, `<FEParamGetPtosVentaResponse xmlns="http://ar.gov.afip.dif.FEV1/"><FEParamGetPtosVentaResult><ResultGet>`+b.String()+`</ResultGet></FEParamGetPtosVentaResult></FEParamGetPtosVentaResponse>`)
}
