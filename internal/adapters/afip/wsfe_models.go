package afip

import "encoding/xml"

const wsfeNamespace = "http://ar.gov.afip.dif.FEV1/"

type feAuth struct {
	Token string `xml:"Token"`
	Sign  string `xml:"Sign"`
	Cuit  int64  `xml:"Cuit"`
}

type feCodeMsg struct {
	Code int    `xml:"Code"`
	Msg  string `xml:"Msg"`
}

type feErrors struct {
	Err []feCodeMsg `xml:"Err"`
}

type feEvents struct {
	Evt []feCodeMsg `xml:"Evt"`
}

type feObservations struct {
	Obs []feCodeMsg `xml:"Obs"`
}

// FEDummy

type feDummyRequest struct {
	XMLName xml.Name `xml:"http://ar.gov.afip.dif.FEV1/ FEDummy"`
}

type feDummyResponse struct {
	XMLName xml.Name `xml:"FEDummyResponse"`
	Result  struct {
		AppServer  string `xml:"AppServer"`
		DbServer   string `xml:"DbServer"`
		AuthServer string `xml:"AuthServer"`
	} `xml:"FEDummyResult"`
}

// FECompUltimoAutorizado

type feCompUltimoAutorizadoRequest struct {
	XMLName  xml.Name `xml:"http://ar.gov.afip.dif.FEV1/ FECompUltimoAutorizado"`
	Auth     feAuth   `xml:"Auth"`
	PtoVta   int      `xml:"PtoVta"`
	CbteTipo int      `xml:"CbteTipo"`
}

type feCompUltimoAutorizadoResponse struct {
	XMLName xml.Name `xml:"FECompUltimoAutorizadoResponse"`
	Result  struct {
		PtoVta   int       `xml:"PtoVta"`
		CbteTipo int       `xml:"CbteTipo"`
		CbteNro  int64     `xml:"CbteNro"`
		Errors   *feErrors `xml:"Errors"`
		Events   *feEvents `xml:"Events"`
	} `xml:"FECompUltimoAutorizadoResult"`
}

// FECAESolicitar

type feCAESolicitarRequest struct {
	XMLName  xml.Name     `xml:"http://ar.gov.afip.dif.FEV1/ FECAESolicitar"`
	Auth     feAuth       `xml:"Auth"`
	FeCAEReq feCAERequest `xml:"FeCAEReq"`
}

type feCAERequest struct {
	FeCabReq feCabRequest `xml:"FeCabReq"`
	FeDetReq feDetRequest `xml:"FeDetReq"`
}

type feCabRequest struct {
	CantReg  int `xml:"CantReg"`
	PtoVta   int `xml:"PtoVta"`
	CbteTipo int `xml:"CbteTipo"`
}

type feDetRequest struct {
	Items []feCAEDetRequest `xml:"FECAEDetRequest"`
}

// feCAEDetRequest field order follows the WSDL sequence; ASMX rejects reordered elements.
type feCAEDetRequest struct {
	Concepto               int          `xml:"Concepto"`
	DocTipo                int          `xml:"DocTipo"`
	DocNro                 int64        `xml:"DocNro"`
	CbteDesde              int64        `xml:"CbteDesde"`
	CbteHasta              int64        `xml:"CbteHasta"`
	CbteFch                string       `xml:"CbteFch"`
	ImpTotal               string       `xml:"ImpTotal"`
	ImpTotConc             string       `xml:"ImpTotConc"`
	ImpNeto                string       `xml:"ImpNeto"`
	ImpOpEx                string       `xml:"ImpOpEx"`
	ImpTrib                string       `xml:"ImpTrib"`
	ImpIVA                 string       `xml:"ImpIVA"`
	FchServDesde           string       `xml:"FchServDesde,omitempty"`
	FchServHasta           string       `xml:"FchServHasta,omitempty"`
	FchVtoPago             string       `xml:"FchVtoPago,omitempty"`
	MonID                  string       `xml:"MonId"`
	MonCotiz               string       `xml:"MonCotiz"`
	CondicionIVAReceptorID int          `xml:"CondicionIVAReceptorId,omitempty"`
	CbtesAsoc              *feCbtesAsoc `xml:"CbtesAsoc,omitempty"`
	Tributos               *feTributos  `xml:"Tributos,omitempty"`
	Iva                    *feAlicuotas `xml:"Iva,omitempty"`
}

type feCbtesAsoc struct {
	Items []feCbteAsoc `xml:"CbteAsoc"`
}

type feCbteAsoc struct {
	Tipo    int    `xml:"Tipo"`
	PtoVta  int    `xml:"PtoVta"`
	Nro     int64  `xml:"Nro"`
	Cuit    string `xml:"Cuit,omitempty"`
	CbteFch string `xml:"CbteFch,omitempty"`
}

type feTributos struct {
	Items []feTributo `xml:"Tributo"`
}

type feTributo struct {
	ID      int    `xml:"Id"`
	Desc    string `xml:"Desc"`
	BaseImp string `xml:"BaseImp"`
	Alic    string `xml:"Alic"`
	Importe string `xml:"Importe"`
}

type feAlicuotas struct {
	Items []feAlicIva `xml:"AlicIva"`
}

type feAlicIva struct {
	ID      int    `xml:"Id"`
	BaseImp string `xml:"BaseImp"`
	Importe string `xml:"Importe"`
}

type feCAESolicitarResponse struct {
	XMLName xml.Name `xml:"FECAESolicitarResponse"`
	Result  struct {
		FeCabResp struct {
			Cuit       int64  `xml:"Cuit"`
			PtoVta     int    `xml:"PtoVta"`
			CbteTipo   int    `xml:"CbteTipo"`
			FchProceso string `xml:"FchProceso"`
			CantReg    int    `xml:"CantReg"`
			Resultado  string `xml:"Resultado"`
			Reproceso  string `xml:"Reproceso"`
		} `xml:"FeCabResp"`
		FeDetResp struct {
			Items []feCAEDetResponse `xml:"FECAEDetResponse"`
		} `xml:"FeDetResp"`
		Events *feEvents `xml:"Events"`
		Errors *feErrors `xml:"Errors"`
	} `xml:"FECAESolicitarResult"`
}

type feCAEDetResponse struct {
	Concepto      int             `xml:"Concepto"`
	DocTipo       int             `xml:"DocTipo"`
	DocNro        int64           `xml:"DocNro"`
	CbteDesde     int64           `xml:"CbteDesde"`
	CbteHasta     int64           `xml:"CbteHasta"`
	CbteFch       string          `xml:"CbteFch"`
	Resultado     string          `xml:"Resultado"`
	Observaciones *feObservations `xml:"Observaciones"`
	CAE           string          `xml:"CAE"`
	CAEFchVto     string          `xml:"CAEFchVto"`
}

// FECompConsultar

type feCompConsultarRequest struct {
	XMLName       xml.Name         `xml:"http://ar.gov.afip.dif.FEV1/ FECompConsultar"`
	Auth          feAuth           `xml:"Auth"`
	FeCompConsReq feCompConsFilter `xml:"FeCompConsReq"`
}

type feCompConsFilter struct {
	CbteTipo int   `xml:"CbteTipo"`
	CbteNro  int64 `xml:"CbteNro"`
	PtoVta   int   `xml:"PtoVta"`
}

type feCompConsultarResponse struct {
	XMLName xml.Name `xml:"FECompConsultarResponse"`
	Result  struct {
		ResultGet *feCompConsResult `xml:"ResultGet"`
		Errors    *feErrors         `xml:"Errors"`
		Events    *feEvents         `xml:"Events"`
	} `xml:"FECompConsultarResult"`
}

type feCompConsResult struct {
	Concepto        int             `xml:"Concepto"`
	DocTipo         int             `xml:"DocTipo"`
	DocNro          int64           `xml:"DocNro"`
	CbteDesde       int64           `xml:"CbteDesde"`
	CbteHasta       int64           `xml:"CbteHasta"`
	CbteFch         string          `xml:"CbteFch"`
	ImpTotal        string          `xml:"ImpTotal"`
	ImpTotConc      string          `xml:"ImpTotConc"`
	ImpNeto         string          `xml:"ImpNeto"`
	ImpOpEx         string          `xml:"ImpOpEx"`
	ImpTrib         string          `xml:"ImpTrib"`
	ImpIVA          string          `xml:"ImpIVA"`
	MonID           string          `xml:"MonId"`
	MonCotiz        string          `xml:"MonCotiz"`
	Iva             *feAlicuotas    `xml:"Iva"`
	Resultado       string          `xml:"Resultado"`
	CodAutorizacion string          `xml:"CodAutorizacion"`
	EmisionTipo     string          `xml:"EmisionTipo"`
	FchVto          string          `xml:"FchVto"`
	FchProceso      string          `xml:"FchProceso"`
	Observaciones   *feObservations `xml:"Observaciones"`
	PtoVta          int             `xml:"PtoVta"`
	CbteTipo        int             `xml:"CbteTipo"`
}

// FEParamGetPtosVenta

type feParamGetPtosVentaRequest struct {
	XMLName xml.Name `xml:"http://ar.gov.afip.dif.FEV1/ FEParamGetPtosVenta"`
	Auth    feAuth   `xml:"Auth"`
}

type feParamGetPtosVentaResponse struct {
	XMLName xml.Name `xml:"FEParamGetPtosVentaResponse"`
	Result  struct {
		ResultGet struct {
			Items []fePtoVenta `xml:"PtoVenta"`
		} `xml:"ResultGet"`
		Errors *feErrors `xml:"Errors"`
		Events *feEvents `xml:"Events"`
	} `xml:"FEParamGetPtosVentaResult"`
}

type fePtoVenta struct {
	Nro         int    `xml:"Nro"`
	EmisionTipo string `xml:"EmisionTipo"`
	Bloqueado   string `xml:"Bloqueado"`
	FchBaja     string `xml:"FchBaja"`
}
