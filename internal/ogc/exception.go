package ogc

import (
	"bytes"
	"encoding/xml"
	"fmt"
)

// ExceptionReport renders a ServiceExceptionReport body for OWS
// errors.
func ExceptionReport(code, message string) []byte {
	var buf bytes.Buffer
	buf.WriteString(`<ServiceExceptionReport version="1.3.0">` + "\n")
	fmt.Fprintf(&buf, ` <ServiceException code="%s">`, xmlEscaped(code))
	buf.WriteString(xmlEscaped(message))
	buf.WriteString("</ServiceException>\n</ServiceExceptionReport>")
	return buf.Bytes()
}

func xmlEscaped(value string) string {
	var buf bytes.Buffer
	xml.EscapeText(&buf, []byte(value))
	return buf.String()
}
