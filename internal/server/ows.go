package server

import (
	"bytes"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/qwc-services/qwc-ogc-service/internal/domain"
	"github.com/qwc-services/qwc-ogc-service/internal/infrastructure/tenant"
	"github.com/qwc-services/qwc-ogc-service/internal/ogc"
)

// handleOws is the OWS gateway endpoint. The flow is fixed: classify
// the request, gate on authentication, resolve the effective
// permission, check and adjust the request, then forward upstream and
// filter the response. All permission decisions happen before any
// backend call.
func (s *Server) handleOws(c echo.Context) error {
	tenantName := c.Param("tenant")
	serviceName := c.Param("*")
	identity := requestIdentity(c)

	snap, err := s.tenants.Snapshot(tenantName)
	if err != nil {
		return err
	}

	r := c.Request()
	values := c.QueryParams()
	var body []byte
	if r.Method == http.MethodPost {
		contentType := r.Header.Get("Content-Type")
		if strings.HasPrefix(contentType, "application/x-www-form-urlencoded") ||
			strings.HasPrefix(contentType, "multipart/form-data") {
			form, err := c.FormParams()
			if err != nil {
				return domain.Malformed(domain.CodeInvalidParameter, "invalid form body")
			}
			values = form
		} else {
			body, err = io.ReadAll(r.Body)
			if err != nil {
				return domain.Malformed(domain.CodeInvalidParameter, "reading request body failed")
			}
		}
	}
	params := ogc.ParamsFromValues(values)
	if p := s.Config.IdentityParameter; p != "" {
		// never trust a client-supplied identity parameter
		params.Del(strings.ToUpper(p))
	}
	if len(body) > 0 && !params.Has("REQUEST") {
		params.Set("SERVICE", ogc.ServiceWFS)
		params.Set("REQUEST", "Transaction")
	}

	req, err := ogc.ParseRequest(params)
	if err != nil {
		return err
	}
	if req.RequireAuth() && !identity.Authenticated() {
		return domain.ErrAuthRequired
	}

	if req.Service == ogc.ServiceWFS {
		return s.forwardWfs(c, snap, tenantName, serviceName, req, identity, body)
	}
	return s.forwardWms(c, snap, tenantName, serviceName, req, identity)
}

func (s *Server) forwardWms(c echo.Context, snap *tenant.Snapshot, tenantName, serviceName string, req *ogc.Request, identity domain.Identity) error {
	perm := ogc.ResolveWms(snap.Catalog, snap.Permissions, serviceName, identity)
	if err := ogc.CheckWmsRequest(req, perm); err != nil {
		return err
	}

	// layer list as requested, before group expansion
	var requested domain.Names
	switch req.Operation {
	case "GETMAP":
		requested = splitList(req.Params.Get("LAYERS"))
	case "GETPRINT":
		if prefix := req.MapParamPrefix(); prefix != "" {
			requested = splitList(req.Params.Get(prefix + ":LAYERS"))
		}
	}

	adjustment := ogc.AdjustWmsRequest(req, perm, s.Config.LegendFontSize)

	method := c.Request().Method
	if req.Operation == "GETMAP" || req.Operation == "GETPRINT" {
		s.rewriteExternalWmsURLs(origin(c), tenantName, requested, req.Params)
	}
	if req.Operation == "GETMAP" && s.marker != nil {
		if marker := req.Params.Get("MARKER"); marker != "" {
			symbol, geometry, err := s.marker.Render(marker)
			if err != nil {
				return err
			}
			appendListParam(req.Params, "HIGHLIGHT_GEOM", geometry)
			appendListParam(req.Params, "HIGHLIGHT_SYMBOL", symbol)
			// the symbol template can exceed URL length limits
			method = http.MethodPost
		}
	}
	s.setIdentityParam(req.Params, identity)

	backendURL := perm.Service.WmsURL
	if backendURL == "" {
		backendURL = joinURL(s.Config.DefaultQgisServerURL, perm.Service.Name)
	}
	if perm.Service.PrintURL != "" &&
		(req.Operation == "GETPRINT" || (req.Operation == "GETMAP" && req.Params.Has("FILENAME"))) {
		backendURL = perm.Service.PrintURL
	}

	resp, err := s.forward(c, method, backendURL, req.Params, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return s.backendError(resp)
	}

	switch req.Operation {
	case "GETCAPABILITIES", "GETPROJECTSETTINGS":
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return &domain.UpstreamError{Err: err}
		}
		urls := perm.Service.OnlineResources
		if urls.Service == "" {
			urls.Service = s.publicServiceURL(c, tenantName, serviceName)
		}
		filtered, err := ogc.FilterWmsCapabilities(data, perm, urls)
		if err != nil {
			return err
		}
		return c.Blob(http.StatusOK, responseContentType(resp), filtered)
	case "GETFEATUREINFO":
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return &domain.UpstreamError{Err: err}
		}
		filtered, contentType, err := ogc.FilterFeatureInfo(data, perm, adjustment.InfoFormat)
		if err != nil {
			return err
		}
		return c.Blob(http.StatusOK, contentType, filtered)
	default:
		return c.Stream(http.StatusOK, responseContentType(resp), resp.Body)
	}
}

func (s *Server) forwardWfs(c echo.Context, snap *tenant.Snapshot, tenantName, serviceName string, req *ogc.Request, identity domain.Identity, body []byte) error {
	perm := ogc.ResolveWfs(snap.Catalog, snap.Permissions, serviceName, identity)
	if err := ogc.CheckWfsRequest(req, perm); err != nil {
		return err
	}
	ogc.AdjustWfsRequest(req)

	if req.Operation == "TRANSACTION" {
		if len(body) == 0 {
			return domain.Malformed("RequestNotWellFormed", "Transaction request without body")
		}
		tx, err := ogc.ParseTransaction(body)
		if err != nil {
			return err
		}
		if err := ogc.ValidateTransaction(tx, perm); err != nil {
			return err
		}
	}
	s.setIdentityParam(req.Params, identity)

	backendURL := perm.Service.WfsURL
	if backendURL == "" {
		backendURL = joinURL(s.Config.DefaultQgisServerURL, perm.Service.Name)
	}

	method := c.Request().Method
	resp, err := s.forward(c, method, backendURL, req.Params, body, c.Request().Header.Get("Content-Type"))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return s.backendError(resp)
	}

	serviceURL := perm.Service.OnlineResource
	if serviceURL == "" {
		serviceURL = s.publicServiceURL(c, tenantName, serviceName)
	}

	switch req.Operation {
	case "GETCAPABILITIES", "DESCRIBEFEATURETYPE", "GETFEATURE":
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return &domain.UpstreamError{Err: err}
		}
		var filtered []byte
		switch req.Operation {
		case "GETCAPABILITIES":
			filtered, err = ogc.FilterWfsCapabilities(data, perm, serviceURL)
		case "DESCRIBEFEATURETYPE":
			filtered, err = ogc.FilterDescribeFeatureType(data, perm)
		default:
			if req.Params.Get("OUTPUTFORMAT") == "geojson" {
				filtered, err = ogc.FilterGeoJSONFeatures(data, perm)
			} else {
				filtered, err = ogc.FilterGmlFeatures(data, perm, backendURL, serviceURL)
			}
		}
		if err != nil {
			return err
		}
		return c.Blob(http.StatusOK, responseContentType(resp), filtered)
	default:
		return c.Stream(http.StatusOK, responseContentType(resp), resp.Body)
	}
}

// forward issues the upstream request. POST requests with an XML body
// keep the OGC parameters on the URL; otherwise POST parameters are
// form-encoded.
func (s *Server) forward(c echo.Context, method, backendURL string, params ogc.Params, body []byte, contentType string) (*http.Response, error) {
	ctx := c.Request().Context()
	var req *http.Request
	var err error
	switch {
	case method == http.MethodPost && body != nil:
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, requestURL(backendURL, params), bytes.NewReader(body))
		if err == nil {
			if contentType == "" {
				contentType = "text/xml"
			}
			req.Header.Set("Content-Type", contentType)
		}
	case method == http.MethodPost:
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, backendURL, strings.NewReader(params.Values().Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	default:
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, requestURL(backendURL, params), nil)
	}
	if err != nil {
		return nil, &domain.UpstreamError{Err: err}
	}
	req.Host = c.Request().Host
	s.log.Debugw("ows: forwarding request", "method", method, "url", backendURL)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &domain.UpstreamError{Err: err}
	}
	return resp, nil
}

func (s *Server) backendError(resp *http.Response) error {
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	s.log.Errorw("ows: backend error", "status", resp.StatusCode, "body", string(payload))
	return &domain.UpstreamError{Status: resp.StatusCode}
}

// rewriteExternalWmsURLs redirects EXTERNAL_WMS layer URLs pointing
// back at this service directly to the backend: this service may not
// be resolvable from the backend container, and the backend has no
// caller identity to access restricted layers with.
func (s *Server) rewriteExternalWmsURLs(origin, tenantName string, requested domain.Names, params ogc.Params) {
	pattern := s.Config.PublicOgcURLPattern
	pattern = strings.ReplaceAll(pattern, "$origin$", regexp.QuoteMeta(strings.TrimRight(origin, "/")))
	pattern = strings.ReplaceAll(pattern, "$tenant$", tenantName)
	pattern = strings.ReplaceAll(pattern, "$mountpoint$", "ows/")
	re, err := regexp.Compile(pattern)
	if err != nil {
		s.log.Errorw("ows: invalid public OGC URL pattern", "pattern", pattern)
		return
	}
	for _, layer := range requested {
		if !strings.HasPrefix(layer, "EXTERNAL_WMS:") {
			continue
		}
		urlParam := strings.TrimPrefix(layer, "EXTERNAL_WMS:") + ":URL"
		if value := params.Get(urlParam); value != "" {
			params.Set(urlParam, re.ReplaceAllString(value, s.Config.DefaultQgisServerURL))
		}
	}
}

func (s *Server) setIdentityParam(params ogc.Params, identity domain.Identity) {
	if s.Config.IdentityParameter != "" && identity.Authenticated() {
		params.Set(strings.ToUpper(s.Config.IdentityParameter), identity.Username)
	}
}

func (s *Server) publicServiceURL(c echo.Context, tenantName, serviceName string) string {
	return origin(c) + "/ows/" + tenantName + "/" + serviceName
}

func origin(c echo.Context) string {
	return c.Scheme() + "://" + c.Request().Host
}

func requestURL(backendURL string, params ogc.Params) string {
	query := params.Values().Encode()
	if query == "" {
		return backendURL
	}
	if strings.Contains(backendURL, "?") {
		return backendURL + "&" + query
	}
	return backendURL + "?" + query
}

func responseContentType(resp *http.Response) string {
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	return contentType
}

func joinURL(base, name string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(name, "/")
}

func splitList(value string) domain.Names {
	if value == "" {
		return nil
	}
	return domain.Names(strings.Split(value, ","))
}

func appendListParam(params ogc.Params, key, value string) {
	parts := []string{}
	for _, part := range []string{params.Get(key), value} {
		if part != "" {
			parts = append(parts, part)
		}
	}
	params.Set(key, strings.Join(parts, ";"))
}
