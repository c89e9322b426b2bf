package afip

import (
	"context"
	"encoding/xml"
	"errors"
	"strings"
	"time"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
)

const opLoginCms = "loginCms"

type loginCmsRequest struct {
	XMLName xml.Name `xml:"http://wsaa.view.sua.dvadac.desein.afip.gov loginCms"`
	In0     string   `xml:"in0"`
}

type loginCmsResponse struct {
	XMLName xml.Name `xml:"loginCmsResponse"`
	Return  string   `xml:"loginCmsReturn"`
}

type loginTicketResponse struct {
	XMLName xml.Name `xml:"loginTicketResponse"`
	Header  struct {
		GenerationTime string `xml:"generationTime"`
		ExpirationTime string `xml:"expirationTime"`
	} `xml:"header"`
	Credentials struct {
		Token string `xml:"token"`
		Sign  string `xml:"sign"`
	} `xml:"credentials"`
}

// LoginClient exchanges a signed TRA for an access ticket (WSAA).
type LoginClient struct {
	transport *transport
	directory Directory
	now       func() time.Time
}

// NewLoginClient creates a new WSAA client.
func NewLoginClient(opts Options) *LoginClient {
	opts = opts.withDefaults()
	return &LoginClient{
		transport: newTransport(opts),
		directory: opts.Directory,
		now:       opts.Now,
	}
}

// Login signs a fresh TRA for the wsfe service and calls loginCms. A SOAP fault
// (untrusted or expired certificate, clock skew, ticket already issued) is an
// authentication error; connectivity problems are transient.
func (c *LoginClient) Login(ctx context.Context, env fiscal.Environment, signer *Signer) (fiscal.Ticket, error) {
	endpoints, err := c.directory.Lookup(env)
	if err != nil {
		return fiscal.Ticket{}, err
	}

	tra, err := BuildTRA(ServiceWSFE, c.now())
	if err != nil {
		return fiscal.Ticket{}, fiscal.NewError(fiscal.KindConfiguration, opLoginCms, "build TRA", err)
	}
	cms, err := SignTRA(tra, signer)
	if err != nil {
		return fiscal.Ticket{}, fiscal.NewError(fiscal.KindConfiguration, opLoginCms, "sign TRA", err)
	}

	var resp loginCmsResponse
	_, err = c.transport.do(ctx, soapCall{
		endpoint: endpoints.WSAA,
		op:       opLoginCms,
		action:   "",
		payload:  loginCmsRequest{In0: cms},
	}, false, &resp)
	if err != nil {
		var fault *Fault
		if errors.As(err, &fault) {
			return fiscal.Ticket{}, &fiscal.Error{
				Kind:    fiscal.KindAuthentication,
				Op:      opLoginCms,
				Code:    fault.ShortCode(),
				Message: strings.TrimSpace(fault.String),
				Err:     fault,
			}
		}
		return fiscal.Ticket{}, err
	}

	return parseLoginTicket(resp.Return)
}

func parseLoginTicket(payload string) (fiscal.Ticket, error) {
	var ltr loginTicketResponse
	if err := xml.Unmarshal([]byte(strings.TrimSpace(payload)), &ltr); err != nil {
		return fiscal.Ticket{}, fiscal.NewError(fiscal.KindProtocol, opLoginCms, "malformed loginTicketResponse", err)
	}
	if ltr.Credentials.Token == "" || ltr.Credentials.Sign == "" {
		return fiscal.Ticket{}, fiscal.NewError(fiscal.KindProtocol, opLoginCms, "loginTicketResponse without credentials", nil)
	}
	expires, err := time.Parse(time.RFC3339, strings.TrimSpace(ltr.Header.ExpirationTime))
	if err != nil {
		return fiscal.Ticket{}, fiscal.NewError(fiscal.KindProtocol, opLoginCms, "invalid expirationTime", err)
	}
	return fiscal.Ticket{
		Token:     ltr.Credentials.Token,
		Sign:      ltr.Credentials.Sign,
		ExpiresAt: expires,
	}, nil
}
