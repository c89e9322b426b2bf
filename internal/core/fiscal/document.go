package fiscal

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Location is the civil time zone AFIP uses for every date on the wire.
var Location = time.FixedZone("ART", -3*60*60)

// DocumentType is the AFIP voucher type code (CbteTipo).
type DocumentType int

const (
	InvoiceA    DocumentType = 1
	DebitNoteA  DocumentType = 2
	CreditNoteA DocumentType = 3
	InvoiceB    DocumentType = 6
	DebitNoteB  DocumentType = 7
	CreditNoteB DocumentType = 8
	InvoiceC    DocumentType = 11
	DebitNoteC  DocumentType = 12
	CreditNoteC DocumentType = 13
)

var documentTypeNames = map[DocumentType]string{
	InvoiceA:    "Factura A",
	DebitNoteA:  "Nota de Débito A",
	CreditNoteA: "Nota de Crédito A",
	InvoiceB:    "Factura B",
	DebitNoteB:  "Nota de Débito B",
	CreditNoteB: "Nota de Crédito B",
	InvoiceC:    "Factura C",
	DebitNoteC:  "Nota de Débito C",
	CreditNoteC: "Nota de Crédito C",
}

func (t DocumentType) Valid() bool {
	_, ok := documentTypeNames[t]
	return ok
}

func (t DocumentType) String() string {
	if name, ok := documentTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("CbteTipo(%d)", int(t))
}

// IsNote reports credit and debit notes, which may reference associated documents.
func (t DocumentType) IsNote() bool {
	switch t {
	case DebitNoteA, CreditNoteA, DebitNoteB, CreditNoteB, DebitNoteC, CreditNoteC:
		return true
	}
	return false
}

// IsClassC reports documents issued by VAT-exempt emitters; they never carry VAT lines.
func (t DocumentType) IsClassC() bool {
	return t == InvoiceC || t == DebitNoteC || t == CreditNoteC
}

// Concept is what the document bills for.
type Concept int

const (
	ConceptGoods            Concept = 1
	ConceptServices         Concept = 2
	ConceptGoodsAndServices Concept = 3
)

func (c Concept) Valid() bool {
	return c >= ConceptGoods && c <= ConceptGoodsAndServices
}

// RequiresServicePeriod reports whether service dates and payment due date are mandatory.
func (c Concept) RequiresServicePeriod() bool {
	return c == ConceptServices || c == ConceptGoodsAndServices
}

// Receiver identification types (DocTipo) most used by the platform.
const (
	ReceiverCUIT          = 80
	ReceiverCUIL          = 86
	ReceiverDNI           = 96
	ReceiverFinalConsumer = 99
)

// LocalCurrency is the AFIP code for Argentine pesos.
const LocalCurrency = "PES"

// vatRates maps each legal VAT percentage to its AFIP AlicIva id.
var vatRates = []struct {
	rate decimal.Decimal
	id   int
}{
	{decimal.NewFromInt(0), 3},
	{decimal.RequireFromString("2.5"), 9},
	{decimal.NewFromInt(5), 8},
	{decimal.RequireFromString("10.5"), 4},
	{decimal.NewFromInt(21), 5},
	{decimal.NewFromInt(27), 6},
}

// VATRateID returns the AFIP id of a VAT percentage from the fixed table.
func VATRateID(rate decimal.Decimal) (int, bool) {
	for _, r := range vatRates {
		if r.rate.Equal(rate) {
			return r.id, true
		}
	}
	return 0, false
}

// VATRateByID is the inverse of VATRateID.
func VATRateByID(id int) (decimal.Decimal, bool) {
	for _, r := range vatRates {
		if r.id == id {
			return r.rate, true
		}
	}
	return decimal.Zero, false
}

// VATLine is one VAT rate applied to a taxable base.
type VATLine struct {
	Rate   decimal.Decimal `json:"rate"`
	Base   decimal.Decimal `json:"base"`
	Amount decimal.Decimal `json:"amount"`
}

// TaxLine is a non-VAT tax (Tributo): perceptions, provincial taxes, etc.
type TaxLine struct {
	ID          int             `json:"id"`
	Description string          `json:"description"`
	Base        decimal.Decimal `json:"base"`
	Rate        decimal.Decimal `json:"rate"`
	Amount      decimal.Decimal `json:"amount"`
}

// AssociatedDocument references the voucher a credit/debit note adjusts.
type AssociatedDocument struct {
	Type       DocumentType `json:"type"`
	SalesPoint int          `json:"salesPoint"`
	Number     int64        `json:"number"`
	CUIT       string       `json:"cuit,omitempty"`
	Date       time.Time    `json:"date,omitempty"`
}

// SequenceKey identifies one independent numbering sequence.
type SequenceKey struct {
	TenantID     string
	SalesPoint   int
	DocumentType DocumentType
}

func (k SequenceKey) String() string {
	return fmt.Sprintf("%s/%d/%d", k.TenantID, k.SalesPoint, int(k.DocumentType))
}

// FullNumber formats the legal document number, e.g. "00003-00000042".
func FullNumber(salesPoint int, sequence int64) string {
	return fmt.Sprintf("%05d-%08d", salesPoint, sequence)
}

// Draft is the minimal business-invoice projection submitted for authorization.
type Draft struct {
	TenantID          string               `json:"-"`
	InvoiceRef        string               `json:"invoiceRef,omitempty"`
	SalesPoint        int                  `json:"salesPoint"`
	DocumentType      DocumentType         `json:"documentType"`
	Concept           Concept              `json:"concept"`
	ReceiverDocType   int                  `json:"receiverDocType"`
	ReceiverDocNumber int64                `json:"receiverDocNumber"`
	ReceiverVATStatus int                  `json:"receiverVatStatus,omitempty"`
	Date              time.Time            `json:"date"`
	ServiceFrom       time.Time            `json:"serviceFrom,omitempty"`
	ServiceTo         time.Time            `json:"serviceTo,omitempty"`
	PaymentDue        time.Time            `json:"paymentDue,omitempty"`
	Net               decimal.Decimal      `json:"net"`
	NonTaxed          decimal.Decimal      `json:"nonTaxed"`
	Exempt            decimal.Decimal      `json:"exempt"`
	VAT               decimal.Decimal      `json:"vat"`
	OtherTaxes        decimal.Decimal      `json:"otherTaxes"`
	Total             decimal.Decimal      `json:"total"`
	Currency          string               `json:"currency"`
	ExchangeRate      decimal.Decimal      `json:"exchangeRate"`
	VATLines          []VATLine            `json:"vatLines"`
	Taxes             []TaxLine            `json:"taxes,omitempty"`
	Associated        []AssociatedDocument `json:"associated,omitempty"`
}

// Key returns the numbering sequence the draft will consume a number from.
func (d Draft) Key() SequenceKey {
	return SequenceKey{TenantID: d.TenantID, SalesPoint: d.SalesPoint, DocumentType: d.DocumentType}
}

// CurrencyCode defaults an empty currency to pesos.
func (d Draft) CurrencyCode() string {
	if c := strings.ToUpper(strings.TrimSpace(d.Currency)); c != "" {
		return c
	}
	return LocalCurrency
}

// Rate returns the exchange rate, 1 for local currency.
func (d Draft) Rate() decimal.Decimal {
	if d.CurrencyCode() == LocalCurrency || d.ExchangeRate.IsZero() {
		return decimal.NewFromInt(1)
	}
	return d.ExchangeRate
}

var cent = decimal.New(1, -2)

func closeEnough(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(cent)
}

// Validate rejects drafts AFIP would refuse for arithmetic or shape reasons,
// before a sequence number is consumed.
func (d Draft) Validate() error {
	var problems []string
	fail := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if d.SalesPoint < 1 || d.SalesPoint > 99998 {
		fail("salesPoint must be between 1 and 99998")
	}
	if !d.DocumentType.Valid() {
		fail("unsupported documentType %d", int(d.DocumentType))
	}
	if !d.Concept.Valid() {
		fail("concept must be 1, 2 or 3")
	}
	if d.Date.IsZero() {
		fail("date is required")
	}
	if d.ReceiverDocType == 0 {
		fail("receiverDocType is required")
	}
	if d.Concept.RequiresServicePeriod() {
		if d.ServiceFrom.IsZero() || d.ServiceTo.IsZero() || d.PaymentDue.IsZero() {
			fail("serviceFrom, serviceTo and paymentDue are required for service concepts")
		} else if d.ServiceTo.Before(d.ServiceFrom) {
			fail("serviceTo precedes serviceFrom")
		}
	}

	for name, amount := range map[string]decimal.Decimal{
		"net": d.Net, "nonTaxed": d.NonTaxed, "exempt": d.Exempt,
		"vat": d.VAT, "otherTaxes": d.OtherTaxes, "total": d.Total,
	} {
		if amount.IsNegative() {
			fail("%s must not be negative", name)
		}
	}

	sum := d.Net.Add(d.NonTaxed).Add(d.Exempt).Add(d.VAT).Add(d.OtherTaxes)
	if !sum.Equal(d.Total) {
		fail("total %s does not match components %s", d.Total.StringFixed(2), sum.StringFixed(2))
	}

	if d.DocumentType.IsClassC() {
		if !d.VAT.IsZero() || len(d.VATLines) > 0 {
			fail("class C documents must not carry VAT")
		}
	} else {
		vatSum, baseSum := decimal.Zero, decimal.Zero
		seen := make(map[int]bool, len(d.VATLines))
		for i, line := range d.VATLines {
			id, ok := VATRateID(line.Rate)
			if !ok {
				fail("vatLines[%d]: rate %s is not a legal VAT rate", i, line.Rate.String())
				continue
			}
			if seen[id] {
				fail("vatLines[%d]: rate %s appears more than once", i, line.Rate.String())
			}
			seen[id] = true
			expected := line.Base.Mul(line.Rate).Div(decimal.NewFromInt(100))
			if !closeEnough(expected, line.Amount) {
				fail("vatLines[%d]: amount %s does not match %s%% of %s", i, line.Amount.StringFixed(2), line.Rate.String(), line.Base.StringFixed(2))
			}
			vatSum = vatSum.Add(line.Amount)
			baseSum = baseSum.Add(line.Base)
		}
		if !closeEnough(vatSum, d.VAT) {
			fail("vat %s does not match vatLines %s", d.VAT.StringFixed(2), vatSum.StringFixed(2))
		}
		if d.Net.IsPositive() && len(d.VATLines) == 0 {
			fail("at least one VAT line is required when net is positive")
		}
		if len(d.VATLines) > 0 && !closeEnough(baseSum, d.Net) {
			fail("net %s does not match VAT bases %s", d.Net.StringFixed(2), baseSum.StringFixed(2))
		}
	}

	taxSum := decimal.Zero
	for _, tax := range d.Taxes {
		taxSum = taxSum.Add(tax.Amount)
	}
	if !closeEnough(taxSum, d.OtherTaxes) {
		fail("otherTaxes %s does not match tax lines %s", d.OtherTaxes.StringFixed(2), taxSum.StringFixed(2))
	}

	if d.CurrencyCode() != LocalCurrency && !d.ExchangeRate.IsPositive() {
		fail("exchangeRate is required for currency %s", d.CurrencyCode())
	}
	if len(d.Associated) > 0 && !d.DocumentType.IsNote() {
		fail("associated documents are only allowed on credit and debit notes")
	}

	if len(problems) > 0 {
		return &Error{Kind: KindValidation, Op: "validate draft", TenantID: d.TenantID, Key: d.Key().String(), Message: strings.Join(problems, "; ")}
	}
	return nil
}

// Observation is a code/message pair returned by AFIP (Obs, Err or Evt).
type Observation struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// OutcomeKind classifies a completed FECAESolicitar exchange. APPROVED_REPROCESSED
// means AFIP matched a prior identical submission and returned its CAE.
type OutcomeKind string

const (
	OutcomeApproved            OutcomeKind = "APPROVED"
	OutcomeApprovedReprocessed OutcomeKind = "APPROVED_REPROCESSED"
	OutcomeRejected            OutcomeKind = "REJECTED"
)

// Outcome is the interpreted result of one authorization attempt.
type Outcome struct {
	Kind                 OutcomeKind
	Key                  SequenceKey
	LastAuthorizedBefore int64
	SequenceNumber       int64
	FullNumber           string
	CAE                  string
	CAEExpiresAt         time.Time
	ProcessedAt          time.Time
	Observations         []Observation
	Events               []Observation
	RawResponse          []byte
}

// Approved covers both plain and reprocessed approvals.
func (o Outcome) Approved() bool {
	return o.Kind == OutcomeApproved || o.Kind == OutcomeApprovedReprocessed
}

// DocumentStatus is the terminal state of a FiscalDocument.
type DocumentStatus string

const (
	DocumentAuthorized DocumentStatus = "AUTHORIZED"
	DocumentRejected   DocumentStatus = "REJECTED"
)

// FiscalDocument is the immutable record of one authorization attempt.
type FiscalDocument struct {
	ID                string          `json:"id"`
	TenantID          string          `json:"tenantId"`
	InvoiceRef        string          `json:"invoiceRef,omitempty"`
	SalesPoint        int             `json:"salesPoint"`
	DocumentType      DocumentType    `json:"documentType"`
	SequenceNumber    int64           `json:"sequenceNumber"`
	FullNumber        string          `json:"fullNumber"`
	Concept           Concept         `json:"concept"`
	IssueDate         time.Time       `json:"issueDate"`
	ReceiverDocType   int             `json:"receiverDocType"`
	ReceiverDocNumber int64           `json:"receiverDocNumber"`
	Net               decimal.Decimal `json:"net"`
	NonTaxed          decimal.Decimal `json:"nonTaxed"`
	Exempt            decimal.Decimal `json:"exempt"`
	VAT               decimal.Decimal `json:"vat"`
	OtherTaxes        decimal.Decimal `json:"otherTaxes"`
	Total             decimal.Decimal `json:"total"`
	Currency          string          `json:"currency"`
	ExchangeRate      decimal.Decimal `json:"exchangeRate"`
	CAE               string          `json:"cae,omitempty"`
	CAEExpiresAt      *time.Time      `json:"caeExpiresAt,omitempty"`
	Status            DocumentStatus  `json:"status"`
	Reprocessed       bool            `json:"reprocessed"`
	Observations      []Observation   `json:"observations,omitempty"`
	QRPayload         string          `json:"qrPayload,omitempty"`
	RawResponse       []byte          `json:"-"`
	CreatedAt         time.Time       `json:"createdAt"`
}

// Key returns the numbering sequence the document belongs to.
func (d FiscalDocument) Key() SequenceKey {
	return SequenceKey{TenantID: d.TenantID, SalesPoint: d.SalesPoint, DocumentType: d.DocumentType}
}

// DocumentSnapshot is AFIP's stored copy of a voucher (FECompConsultar).
type DocumentSnapshot struct {
	SalesPoint        int             `json:"salesPoint"`
	DocumentType      DocumentType    `json:"documentType"`
	Number            int64           `json:"number"`
	Concept           Concept         `json:"concept"`
	ReceiverDocType   int             `json:"receiverDocType"`
	ReceiverDocNumber int64           `json:"receiverDocNumber"`
	IssueDate         time.Time       `json:"issueDate"`
	Total             decimal.Decimal `json:"total"`
	NonTaxed          decimal.Decimal `json:"nonTaxed"`
	Net               decimal.Decimal `json:"net"`
	Exempt            decimal.Decimal `json:"exempt"`
	OtherTaxes        decimal.Decimal `json:"otherTaxes"`
	VAT               decimal.Decimal `json:"vat"`
	Currency          string          `json:"currency"`
	ExchangeRate      decimal.Decimal `json:"exchangeRate"`
	VATLines          []VATLine       `json:"vatLines,omitempty"`
	AuthorizationCode string          `json:"authorizationCode"`
	EmissionKind      string          `json:"emissionKind"`
	ExpiresAt         time.Time       `json:"expiresAt"`
	ProcessedAt       time.Time       `json:"processedAt"`
	Result            string          `json:"result"`
	Observations      []Observation   `json:"observations,omitempty"`
}

// ServiceStatus is the FEDummy health probe of the remote authority.
type ServiceStatus struct {
	AppServer  string `json:"appServer"`
	DbServer   string `json:"dbServer"`
	AuthServer string `json:"authServer"`
}

// OK reports whether every AFIP subsystem answered "OK".
func (s ServiceStatus) OK() bool {
	return s.AppServer == "OK" && s.DbServer == "OK" && s.AuthServer == "OK"
}

// CertificateInfo is the read-only summary returned by certificate validation.
type CertificateInfo struct {
	Valid        bool      `json:"valid"`
	Subject      string    `json:"subject"`
	Issuer       string    `json:"issuer"`
	SerialNumber string    `json:"serialNumber"`
	CUIT         string    `json:"cuit,omitempty"`
	ValidFrom    time.Time `json:"validFrom"`
	ValidTo      time.Time `json:"validTo"`
	IsExpired    bool      `json:"isExpired"`
	DaysToExpire int       `json:"daysToExpire"`
}
