package domain

import (
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
)

// Attribute is a single layer attribute with its display alias.
type Attribute struct {
	Name  string
	Alias string
}

// AttributeList is the ordered attribute configuration of a layer.
// In config files it appears either as a bare name list or as an
// object mapping name to alias; both forms decode into the same
// ordered representation, bare names getting identity aliases.
type AttributeList []Attribute

func (a *AttributeList) UnmarshalJSON(data []byte) error {
	iter := jsoniter.ParseBytes(jsoniter.ConfigCompatibleWithStandardLibrary, data)
	switch iter.WhatIsNext() {
	case jsoniter.ArrayValue:
		for iter.ReadArray() {
			name := iter.ReadString()
			*a = append(*a, Attribute{Name: name, Alias: name})
		}
	case jsoniter.ObjectValue:
		for name := iter.ReadObject(); name != ""; name = iter.ReadObject() {
			*a = append(*a, Attribute{Name: name, Alias: iter.ReadString()})
		}
	case jsoniter.NilValue:
		iter.ReadNil()
	default:
		return fmt.Errorf("attributes: expected list or object")
	}
	if iter.Error != nil && iter.Error != io.EOF {
		return fmt.Errorf("attributes: %w", iter.Error)
	}
	return nil
}

func (a AttributeList) Names() Names {
	names := make(Names, len(a))
	for i, attr := range a {
		names[i] = attr.Name
	}
	return names
}

func (a AttributeList) Alias(name string) string {
	for _, attr := range a {
		if attr.Name == name {
			return attr.Alias
		}
	}
	return name
}

func (a AttributeList) Has(name string) bool {
	for _, attr := range a {
		if attr.Name == name {
			return true
		}
	}
	return false
}

// Select keeps attributes whose name is in permitted, in configured order.
func (a AttributeList) Select(permitted Names) AttributeList {
	res := AttributeList{}
	for _, attr := range a {
		if permitted.Has(attr.Name) {
			res = append(res, attr)
		}
	}
	return res
}
