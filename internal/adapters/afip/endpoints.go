package afip

import (
	"fmt"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
)

// Endpoints are the service URLs of one AFIP deployment.
type Endpoints struct {
	WSAA string
	WSFE string
}

// Directory resolves endpoints per environment.
type Directory map[fiscal.Environment]Endpoints

// DefaultDirectory returns the public homologation and production endpoints.
func DefaultDirectory() Directory {
	return Directory{
		fiscal.EnvironmentTest: {
			WSAA: "https://wsaahomo.afip.gov.ar/ws/services/LoginCms",
			WSFE: "https://wswhomo.afip.gov.ar/wsfev1/service.asmx",
		},
		fiscal.EnvironmentProd: {
			WSAA: "https://wsaa.afip.gov.ar/ws/services/LoginCms",
			WSFE: "https://servicios1.afip.gov.ar/wsfev1/service.asmx",
		},
	}
}

// WithOverrides replaces non-empty URLs of env, leaving the rest untouched.
func (d Directory) WithOverrides(env fiscal.Environment, override Endpoints) Directory {
	out := make(Directory, len(d))
	for k, v := range d {
		out[k] = v
	}
	current := out[env]
	if override.WSAA != "" {
		current.WSAA = override.WSAA
	}
	if override.WSFE != "" {
		current.WSFE = override.WSFE
	}
	out[env] = current
	return out
}

// Lookup returns the endpoints for env.
func (d Directory) Lookup(env fiscal.Environment) (Endpoints, error) {
	ep, ok := d[env]
	if !ok || ep.WSAA == "" || ep.WSFE == "" {
		return Endpoints{}, configError("resolve endpoints", fmt.Sprintf("no AFIP endpoints for environment %q", env), nil)
	}
	return ep, nil
}
