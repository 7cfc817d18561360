package ogc

import (
	"encoding/xml"
	"strings"

	"github.com/qwc-services/qwc-ogc-service/internal/domain"
)

// Transaction is a parsed WFS-T request body. Operations keep the
// document order, which determines the first offending operation in
// a rejection.
type Transaction struct {
	XMLName    xml.Name
	Operations []TransactionOp `xml:",any"`
}

type TransactionOp struct {
	XMLName  xml.Name
	TypeName string `xml:"typeName,attr"`
	// Properties carries Update property assignments.
	Properties []TransactionProperty `xml:"Property"`
	// Features carries inserted feature elements.
	Features []InsertFeature `xml:",any"`
}

type TransactionProperty struct {
	XMLName xml.Name `xml:"Property"`
	Name    string   `xml:"Name"`
	Value   string   `xml:"Value"`
}

type InsertFeature struct {
	XMLName    xml.Name
	Attributes []InsertAttribute `xml:",any"`
}

type InsertAttribute struct {
	XMLName xml.Name
}

// ParseTransaction decodes a WFS-T request body.
func ParseTransaction(body []byte) (*Transaction, error) {
	var tx Transaction
	if err := xml.Unmarshal(body, &tx); err != nil {
		return nil, domain.Malformed("RequestNotWellFormed", "invalid transaction: %v", err)
	}
	if tx.XMLName.Local != "Transaction" {
		return nil, domain.Malformed("RequestNotWellFormed", "expected Transaction root element, got %s", tx.XMLName.Local)
	}
	return &tx, nil
}

// stripTypePrefix removes a namespace prefix from a typename as used
// in typeName attributes ("qgs:edit_points").
func stripTypePrefix(typeName string) string {
	parts := strings.Split(typeName, ":")
	return parts[len(parts)-1]
}

// ValidateTransaction checks every operation of a transaction against
// the effective permission. Validation is all-or-nothing: the first
// operation touching a non-writable layer or a non-permitted
// attribute rejects the whole transaction before any backend call.
func ValidateTransaction(tx *Transaction, perm *WfsPermission) error {
	cleaned := make(map[string]string, len(perm.Layers))
	cleanedAttrs := make(map[string]domain.Names, len(perm.Layers))
	for _, layer := range perm.Layers {
		clean := CleanLayerName(layer)
		cleaned[clean] = layer
		attrs := domain.Names{}
		for _, attr := range perm.Attributes[layer] {
			attrs = append(attrs, CleanAttributeName(attr.Name))
		}
		cleanedAttrs[clean] = attrs
	}

	for _, op := range tx.Operations {
		switch op.XMLName.Local {
		case "Insert":
			for _, feature := range op.Features {
				typename := CleanLayerName(feature.XMLName.Local)
				layer, ok := cleaned[typename]
				if !ok || !perm.Creatable.Has(layer) {
					return &domain.TransactionError{Op: "Insert", Layer: typename}
				}
				for _, attr := range feature.Attributes {
					name := CleanAttributeName(attr.XMLName.Local)
					if name != GeometryAttribute && !cleanedAttrs[typename].Has(name) {
						return &domain.TransactionError{Op: "Insert", Layer: typename, Attribute: name}
					}
				}
			}
		case "Update":
			typename := CleanLayerName(stripTypePrefix(op.TypeName))
			layer, ok := cleaned[typename]
			if !ok || !perm.Updatable.Has(layer) {
				return &domain.TransactionError{Op: "Update", Layer: typename}
			}
			for _, prop := range op.Properties {
				name := CleanAttributeName(prop.Name)
				if name != GeometryAttribute && !cleanedAttrs[typename].Has(name) {
					return &domain.TransactionError{Op: "Update", Layer: typename, Attribute: name}
				}
			}
		case "Delete":
			typename := CleanLayerName(stripTypePrefix(op.TypeName))
			layer, ok := cleaned[typename]
			if !ok || !perm.Deletable.Has(layer) {
				return &domain.TransactionError{Op: "Delete", Layer: typename}
			}
		}
	}
	return nil
}
