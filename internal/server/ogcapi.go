package server

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/labstack/echo/v4"

	"github.com/qwc-services/qwc-ogc-service/internal/domain"
	"github.com/qwc-services/qwc-ogc-service/internal/ogc"
)

type apiLink struct {
	Href  string `json:"href"`
	Rel   string `json:"rel,omitempty"`
	Type  string `json:"type,omitempty"`
	Title string `json:"title,omitempty"`
}

type apiLandingPage struct {
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	Links       []apiLink `json:"links"`
}

type apiCollection struct {
	ID          string              `json:"id"`
	Title       string              `json:"title,omitempty"`
	Description string              `json:"description,omitempty"`
	Extent      jsoniter.RawMessage `json:"extent,omitempty"`
	ItemType    string              `json:"itemType,omitempty"`
	CRS         jsoniter.RawMessage `json:"crs,omitempty"`
	StorageCRS  string              `json:"storageCrs,omitempty"`
	Links       []apiLink           `json:"links,omitempty"`
}

type apiCollectionsDoc struct {
	Links       []apiLink       `json:"links,omitempty"`
	Collections []apiCollection `json:"collections"`
}

type apiFeature struct {
	Type       string                `json:"type"`
	ID         jsoniter.RawMessage   `json:"id,omitempty"`
	Geometry   jsoniter.RawMessage   `json:"geometry"`
	BBox       jsoniter.RawMessage   `json:"bbox,omitempty"`
	Properties ogc.OrderedProperties `json:"properties"`
	Links      []apiLink             `json:"links,omitempty"`
}

type apiFeatureCollection struct {
	Type           string       `json:"type"`
	Features       []apiFeature `json:"features"`
	Links          []apiLink    `json:"links,omitempty"`
	TimeStamp      string       `json:"timeStamp,omitempty"`
	NumberMatched  *int         `json:"numberMatched,omitempty"`
	NumberReturned *int         `json:"numberReturned,omitempty"`
}

// apiContext resolves the tenant snapshot and effective WFS
// permission of an OGC API Features request.
func (s *Server) apiContext(c echo.Context) (*ogc.WfsPermission, error) {
	snap, err := s.tenants.Snapshot(c.Param("tenant"))
	if err != nil {
		return nil, err
	}
	perm := ogc.ResolveWfs(snap.Catalog, snap.Permissions, c.Param("service"), requestIdentity(c))
	if perm.Service == nil {
		return nil, echo.NewHTTPError(http.StatusNotFound, "Service not found")
	}
	return perm, nil
}

func (s *Server) apiBackendBase(serviceName string) string {
	base := s.Config.OapiQgisServerURL
	if base == "" {
		base = s.Config.DefaultQgisServerURL
	}
	return joinURL(base, serviceName)
}

func (s *Server) apiPublicBase(c echo.Context) string {
	return origin(c) + "/api/" + c.Param("tenant") + "/" + c.Param("service")
}

// apiForward proxies a request to the backend OGC API endpoint,
// appending the caller identity parameter.
func (s *Server) apiForward(c echo.Context, method, path string, body []byte) (*http.Response, error) {
	backendURL := s.apiBackendBase(c.Param("service")) + path
	query := c.QueryParams()
	if p := s.Config.IdentityParameter; p != "" {
		query.Del(p)
		if identity := requestIdentity(c); identity.Authenticated() {
			query.Set(p, identity.Username)
		}
	}
	if encoded := query.Encode(); encoded != "" {
		backendURL += "?" + encoded
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(c.Request().Context(), method, backendURL, reader)
	if err != nil {
		return nil, &domain.UpstreamError{Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", echo.MIMEApplicationJSON)
	}
	req.Header.Set("Accept", echo.MIMEApplicationJSON)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &domain.UpstreamError{Err: err}
	}
	return resp, nil
}

func (s *Server) apiReadJSON(resp *http.Response, target interface{}) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.UpstreamError{Err: err}
	}
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, target); err != nil {
		return &domain.UpstreamError{Err: err}
	}
	return nil
}

func (s *Server) rewriteApiLinks(c echo.Context, links []apiLink) {
	backendBase := s.apiBackendBase(c.Param("service"))
	publicBase := s.apiPublicBase(c)
	for i, link := range links {
		if strings.HasPrefix(link.Href, backendBase) {
			links[i].Href = publicBase + strings.TrimPrefix(link.Href, backendBase)
		}
	}
}

func (s *Server) handleApiLanding(c echo.Context) error {
	if _, err := s.apiContext(c); err != nil {
		return err
	}
	resp, err := s.apiForward(c, http.MethodGet, "", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return s.backendError(resp)
	}
	var doc apiLandingPage
	if err := s.apiReadJSON(resp, &doc); err != nil {
		return err
	}
	s.rewriteApiLinks(c, doc.Links)
	return c.JSON(http.StatusOK, doc)
}

func (s *Server) handleApiCollections(c echo.Context) error {
	perm, err := s.apiContext(c)
	if err != nil {
		return err
	}
	resp, err := s.apiForward(c, http.MethodGet, "/collections", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return s.backendError(resp)
	}
	var doc apiCollectionsDoc
	if err := s.apiReadJSON(resp, &doc); err != nil {
		return err
	}
	kept := []apiCollection{}
	for _, collection := range doc.Collections {
		if perm.Visible(ogc.CleanLayerName(collection.ID)) {
			s.rewriteApiLinks(c, collection.Links)
			kept = append(kept, collection)
		}
	}
	doc.Collections = kept
	s.rewriteApiLinks(c, doc.Links)
	return c.JSON(http.StatusOK, doc)
}

func (s *Server) handleApiCollection(c echo.Context) error {
	_, _, err := s.apiCollectionContext(c)
	if err != nil {
		return err
	}
	resp, err := s.apiForward(c, http.MethodGet, "/collections/"+c.Param("id"), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return s.backendError(resp)
	}
	var collection apiCollection
	if err := s.apiReadJSON(resp, &collection); err != nil {
		return err
	}
	s.rewriteApiLinks(c, collection.Links)
	return c.JSON(http.StatusOK, collection)
}

// apiCollectionContext additionally checks that the addressed
// collection is readable; non-permitted collections are
// indistinguishable from absent ones.
func (s *Server) apiCollectionContext(c echo.Context) (*ogc.WfsPermission, string, error) {
	perm, err := s.apiContext(c)
	if err != nil {
		return nil, "", err
	}
	typename := ogc.CleanLayerName(c.Param("id"))
	if !perm.Visible(typename) {
		return nil, "", echo.NewHTTPError(http.StatusNotFound, "Collection not found")
	}
	return perm, typename, nil
}

func (s *Server) handleApiItems(c echo.Context) error {
	perm, typename, err := s.apiCollectionContext(c)
	if err != nil {
		return err
	}
	resp, err := s.apiForward(c, http.MethodGet, "/collections/"+c.Param("id")+"/items", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return s.backendError(resp)
	}
	var doc apiFeatureCollection
	if err := s.apiReadJSON(resp, &doc); err != nil {
		return err
	}
	permitted := perm.Attributes[typename]
	for i := range doc.Features {
		doc.Features[i].Properties = selectProperties(doc.Features[i].Properties, permitted)
		s.rewriteApiLinks(c, doc.Features[i].Links)
	}
	s.rewriteApiLinks(c, doc.Links)
	return c.JSON(http.StatusOK, doc)
}

func (s *Server) handleApiItem(c echo.Context) error {
	perm, typename, err := s.apiCollectionContext(c)
	if err != nil {
		return err
	}
	resp, err := s.apiForward(c, http.MethodGet, "/collections/"+c.Param("id")+"/items/"+c.Param("fid"), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return s.backendError(resp)
	}
	var feature apiFeature
	if err := s.apiReadJSON(resp, &feature); err != nil {
		return err
	}
	feature.Properties = selectProperties(feature.Properties, perm.Attributes[typename])
	s.rewriteApiLinks(c, feature.Links)
	return c.JSON(http.StatusOK, feature)
}

func (s *Server) handleApiCreateItem(c echo.Context) error {
	perm, typename, err := s.apiCollectionContext(c)
	if err != nil {
		return err
	}
	if !perm.Creatable.Has(typename) {
		return domain.Denied("Forbidden", "No create permission on collection '%s'", c.Param("id"))
	}
	body, err := s.validateApiFeature(c, perm, typename, "Insert")
	if err != nil {
		return err
	}
	return s.apiWrite(c, http.MethodPost, "/collections/"+c.Param("id")+"/items", body)
}

func (s *Server) handleApiUpdateItem(c echo.Context) error {
	perm, typename, err := s.apiCollectionContext(c)
	if err != nil {
		return err
	}
	if !perm.Updatable.Has(typename) {
		return domain.Denied("Forbidden", "No update permission on collection '%s'", c.Param("id"))
	}
	body, err := s.validateApiFeature(c, perm, typename, "Update")
	if err != nil {
		return err
	}
	return s.apiWrite(c, c.Request().Method, "/collections/"+c.Param("id")+"/items/"+c.Param("fid"), body)
}

func (s *Server) handleApiDeleteItem(c echo.Context) error {
	perm, typename, err := s.apiCollectionContext(c)
	if err != nil {
		return err
	}
	if !perm.Deletable.Has(typename) {
		return domain.Denied("Forbidden", "No delete permission on collection '%s'", c.Param("id"))
	}
	return s.apiWrite(c, http.MethodDelete, "/collections/"+c.Param("id")+"/items/"+c.Param("fid"), nil)
}

// validateApiFeature rejects a write whose payload touches a
// non-permitted property; the whole write fails, nothing is
// partially applied.
func (s *Server) validateApiFeature(c echo.Context, perm *ogc.WfsPermission, typename, op string) ([]byte, error) {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, domain.Malformed(domain.CodeInvalidParameter, "reading request body failed")
	}
	var feature apiFeature
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(body, &feature); err != nil {
		return nil, domain.Malformed(domain.CodeInvalidParameter, "invalid feature payload")
	}
	permitted := perm.Attributes[typename]
	for _, property := range feature.Properties {
		if !permitted.Has(ogc.CleanAttributeName(property.Name)) {
			return nil, &domain.TransactionError{Op: op, Layer: c.Param("id"), Attribute: property.Name}
		}
	}
	return body, nil
}

func (s *Server) apiWrite(c echo.Context, method, path string, body []byte) error {
	resp, err := s.apiForward(c, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if location := resp.Header.Get("Location"); location != "" {
		backendBase := s.apiBackendBase(c.Param("service"))
		if strings.HasPrefix(location, backendBase) {
			location = s.apiPublicBase(c) + strings.TrimPrefix(location, backendBase)
		}
		c.Response().Header().Set("Location", location)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.UpstreamError{Err: err}
	}
	return c.Blob(resp.StatusCode, responseContentType(resp), data)
}

func selectProperties(properties ogc.OrderedProperties, permitted domain.AttributeList) ogc.OrderedProperties {
	kept := ogc.OrderedProperties{}
	for _, property := range properties {
		if permitted.Has(ogc.CleanAttributeName(property.Name)) {
			kept = append(kept, property)
		}
	}
	return kept
}
