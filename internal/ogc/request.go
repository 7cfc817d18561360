package ogc

import (
	"net/url"
	"strings"

	"github.com/qwc-services/qwc-ogc-service/internal/domain"
)

const (
	ServiceWMS = "WMS"
	ServiceWFS = "WFS"
)

// Params holds request parameters with keys normalized to upper
// case, as OGC parameter names are case-insensitive.
type Params map[string]string

func ParamsFromValues(values url.Values) Params {
	params := make(Params, len(values))
	for key, vals := range values {
		if len(vals) > 0 {
			params[strings.ToUpper(key)] = vals[0]
		}
	}
	return params
}

func (p Params) Get(key string) string {
	return p[key]
}

func (p Params) Set(key, value string) {
	p[key] = value
}

func (p Params) Del(key string) {
	delete(p, key)
}

func (p Params) Has(key string) bool {
	_, ok := p[key]
	return ok
}

func (p Params) Values() url.Values {
	values := make(url.Values, len(p))
	for key, value := range p {
		values.Set(key, value)
	}
	return values
}

// Request is a classified OWS request.
type Request struct {
	Service   string
	Operation string
	Version   string
	Params    Params
}

// ParseRequest classifies raw request parameters into a protocol
// family and operation.
func ParseRequest(params Params) (*Request, error) {
	service := strings.ToUpper(params.Get("SERVICE"))
	if service == "" {
		return nil, domain.Malformed(domain.CodeMissingParameter, "Please check the value of the SERVICE parameter")
	}
	if service != ServiceWMS && service != ServiceWFS {
		return nil, domain.Malformed(domain.CodeInvalidParameter, "Service %s is not supported", service)
	}
	operation := strings.ToUpper(params.Get("REQUEST"))
	if operation == "" {
		return nil, domain.Malformed(domain.CodeOperationNotSupported, "Please check the value of the REQUEST parameter")
	}
	return &Request{
		Service:   service,
		Operation: operation,
		Version:   params.Get("VERSION"),
		Params:    params,
	}, nil
}

// RequireAuth reports whether the request demands an authenticated
// identity regardless of anonymous permissions.
func (r *Request) RequireAuth() bool {
	return r.Params.Get("REQUIREAUTH") == "1"
}

// MapParamPrefix deduces the GetPrint map item name by looking for a
// parameter ending in :EXTENT. Looking for :LAYERS instead would
// match external layer definitions like A:LAYERS.
func (r *Request) MapParamPrefix() string {
	for key := range r.Params {
		if strings.HasSuffix(key, ":EXTENT") {
			return strings.TrimSuffix(key, ":EXTENT")
		}
	}
	return ""
}
