package afip

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"time"

	"go.mozilla.org/pkcs7"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
)

// ServiceWSFE is the WSAA service name for electronic invoicing.
const ServiceWSFE = "wsfe"

// traSkew is applied on both sides of generationTime/expirationTime to absorb clock drift.
const traSkew = 10 * time.Minute

const wsaaTimeLayout = "2006-01-02T15:04:05-07:00"

type loginTicketRequest struct {
	XMLName xml.Name  `xml:"loginTicketRequest"`
	Version string    `xml:"version,attr"`
	Header  traHeader `xml:"header"`
	Service string    `xml:"service"`
}

type traHeader struct {
	UniqueID       int64  `xml:"uniqueId"`
	GenerationTime string `xml:"generationTime"`
	ExpirationTime string `xml:"expirationTime"`
}

// BuildTRA renders the login ticket request for service at now.
func BuildTRA(service string, now time.Time) ([]byte, error) {
	local := now.In(fiscal.Location)
	tra := loginTicketRequest{
		Version: "1.0",
		Header: traHeader{
			UniqueID:       now.Unix(),
			GenerationTime: local.Add(-traSkew).Format(wsaaTimeLayout),
			ExpirationTime: local.Add(traSkew).Format(wsaaTimeLayout),
		},
		Service: service,
	}
	body, err := xml.Marshal(tra)
	if err != nil {
		return nil, fmt.Errorf("marshal TRA: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

// SignTRA wraps tra in a CMS signed-data envelope with embedded content and
// returns it base64 encoded, ready for loginCms.
func SignTRA(tra []byte, signer *Signer) (string, error) {
	sd, err := pkcs7.NewSignedData(tra)
	if err != nil {
		return "", fmt.Errorf("init signed data: %w", err)
	}
	sd.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)
	if err := sd.AddSigner(signer.Certificate, signer.Key, pkcs7.SignerInfoConfig{}); err != nil {
		return "", fmt.Errorf("add signer: %w", err)
	}
	der, err := sd.Finish()
	if err != nil {
		return "", fmt.Errorf("finish signed data: %w", err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}
