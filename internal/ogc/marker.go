package ogc

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/qwc-services/qwc-ogc-service/internal/domain"
)

// Marker parameter types.
const (
	MarkerTypeNumber = "number"
	MarkerTypeColor  = "color"
	MarkerTypeString = "string"
)

var hexColorPattern = regexp.MustCompile(`^([A-Fa-f0-9]{6}|[A-Fa-f0-9]{3})$`)

// MarkerParam declares one substitutable parameter of the marker
// template, with its resolved default value. The JSON shape matches
// the MARKER_PARAMS configuration entries.
type MarkerParam struct {
	Name  string `json:"name"`
	Value string `json:"default"`
	Type  string `json:"type"`
}

// MarkerTemplate renders a trusted SLD symbol fragment with
// client-supplied parameter overrides. The template itself is never
// client-controlled; every substituted value is validated against
// its declared type before it reaches the output markup.
type MarkerTemplate struct {
	template string
	params   map[string]MarkerParam
}

// NewMarkerTemplate builds the engine from the configured template
// and parameter declarations. Parameter names are uppercased; an
// environment-style override (MARKER_<NAME>, via lookup) replaces a
// declared default. X and Y are implicitly declared as mandatory
// numbers without defaults.
func NewMarkerTemplate(template string, params []MarkerParam, lookupEnv func(string) (string, bool)) *MarkerTemplate {
	t := &MarkerTemplate{
		template: template,
		params: map[string]MarkerParam{
			"X": {Name: "X", Type: MarkerTypeNumber},
			"Y": {Name: "Y", Type: MarkerTypeNumber},
		},
	}
	for _, param := range params {
		name := strings.ToUpper(param.Name)
		if param.Type == "" {
			param.Type = MarkerTypeString
		}
		if lookupEnv != nil {
			if value, ok := lookupEnv("MARKER_" + name); ok {
				param.Value = value
			}
		}
		t.params[name] = MarkerParam{Name: name, Value: param.Value, Type: param.Type}
	}
	return t
}

// Render resolves the MARKER request parameter (pipe-separated
// NAME->VALUE pairs) against the declared parameters and substitutes
// each $PARAM$ placeholder in the template. It returns the rendered
// symbol fragment and the marker point geometry in map coordinates.
// Placeholders without a matching parameter are left untouched.
func (t *MarkerTemplate) Render(marker string) (symbol string, geometry string, err error) {
	overrides := make(map[string]string)
	for _, pair := range strings.Split(marker, "|") {
		parts := strings.SplitN(pair, "->", 2)
		if len(parts) != 2 {
			return "", "", domain.Malformed(domain.CodeInvalidParameter,
				"Invalid entry %q in MARKER param", pair)
		}
		overrides[strings.ToUpper(parts[0])] = parts[1]
	}
	if _, ok := overrides["X"]; !ok {
		return "", "", domain.Malformed(domain.CodeInvalidParameter,
			"Both X and Y need to be specified in MARKER param")
	}
	if _, ok := overrides["Y"]; !ok {
		return "", "", domain.Malformed(domain.CodeInvalidParameter,
			"Both X and Y need to be specified in MARKER param")
	}

	rendered := t.template
	for name := range overrides {
		if _, declared := t.params[name]; !declared {
			return "", "", domain.Malformed(domain.CodeInvalidParameter,
				"Unknown MARKER param %s", name)
		}
	}
	for name, param := range t.params {
		value, ok := overrides[name]
		if !ok {
			value = param.Value
		}
		value, err := validateMarkerValue(name, value, param.Type)
		if err != nil {
			return "", "", err
		}
		rendered = strings.ReplaceAll(rendered, "$"+name+"$", value)
	}

	geometry = fmt.Sprintf("POINT (%s %s)", overrides["X"], overrides["Y"])
	return rendered, geometry, nil
}

func validateMarkerValue(name, value, paramType string) (string, error) {
	switch paramType {
	case MarkerTypeNumber:
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return "", domain.Malformed(domain.CodeInvalidParameter,
				"Bad value for MARKER param %s (value: %s, expected to be a: %s)", name, value, paramType)
		}
	case MarkerTypeColor:
		if !hexColorPattern.MatchString(value) {
			return "", domain.Malformed(domain.CodeInvalidParameter,
				"Bad value for MARKER param %s (value: %s, expected to be a: %s)", name, value, paramType)
		}
		value = "#" + value
	case MarkerTypeString:
		value = xmlEscape(value)
	default:
		return "", domain.Malformed(domain.CodeInvalidParameter,
			"Unknown parameter type %s in MARKER param %s configuration", paramType, name)
	}
	return value, nil
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&apos;",
)

func xmlEscape(value string) string {
	return xmlEscaper.Replace(value)
}
