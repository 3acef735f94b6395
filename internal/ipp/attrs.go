package ipp

import (
	"github.com/OpenPrinting/goipp"
)

// NewRequest builds an IPP request seeded with the mandatory
// attributes-charset and attributes-natural-language attributes.
func NewRequest(op goipp.Op, requestID uint32) *goipp.Message {
	m := goipp.NewRequest(goipp.DefaultVersion, op, requestID)
	m.Operation.Add(goipp.MakeAttribute("attributes-charset",
		goipp.TagCharset, goipp.String("utf-8")))
	m.Operation.Add(goipp.MakeAttribute("attributes-natural-language",
		goipp.TagLanguage, goipp.String("en-us")))
	return m
}

// AllAttrs returns every attribute of every group of msg, in wire order.
// Useful when the caller does not care which group an attribute landed in.
func AllAttrs(msg *goipp.Message) goipp.Attributes {
	var attrs goipp.Attributes
	for _, g := range msg.AttrGroups() {
		attrs = append(attrs, g.Attrs...)
	}
	return attrs
}

// FindAttr returns the first attribute with the given name
func FindAttr(attrs goipp.Attributes, name string) (goipp.Attribute, bool) {
	for _, a := range attrs {
		if a.Name == name {
			return a, true
		}
	}
	return goipp.Attribute{}, false
}

// AttrString returns the first value of the named attribute as a string
func AttrString(attrs goipp.Attributes, name string) (string, bool) {
	a, ok := FindAttr(attrs, name)
	if !ok || len(a.Values) == 0 {
		return "", false
	}
	return stringValue(a.Values[0].V)
}

// AttrStrings returns all string values of the named attribute
func AttrStrings(attrs goipp.Attributes, name string) []string {
	a, ok := FindAttr(attrs, name)
	if !ok {
		return nil
	}
	var out []string
	for _, v := range a.Values {
		if s, ok := stringValue(v.V); ok {
			out = append(out, s)
		}
	}
	return out
}

// AttrInt returns the first value of the named attribute as an int.
// Integer and enum values both decode to goipp.Integer.
func AttrInt(attrs goipp.Attributes, name string) (int, bool) {
	a, ok := FindAttr(attrs, name)
	if !ok || len(a.Values) == 0 {
		return 0, false
	}
	if i, ok := a.Values[0].V.(goipp.Integer); ok {
		return int(i), true
	}
	return 0, false
}

// ValueString returns the first value of attr as a string
func ValueString(attr goipp.Attribute) (string, bool) {
	if len(attr.Values) == 0 {
		return "", false
	}
	return stringValue(attr.Values[0].V)
}

// ValueInt returns the first value of attr as an int
func ValueInt(attr goipp.Attribute) (int, bool) {
	if len(attr.Values) == 0 {
		return 0, false
	}
	if i, ok := attr.Values[0].V.(goipp.Integer); ok {
		return int(i), true
	}
	return 0, false
}

// AttrContains reports whether the named attribute carries the given
// string among its values
func AttrContains(attrs goipp.Attributes, name, value string) bool {
	for _, s := range AttrStrings(attrs, name) {
		if s == value {
			return true
		}
	}
	return false
}

func stringValue(v goipp.Value) (string, bool) {
	switch s := v.(type) {
	case goipp.String:
		return string(s), true
	case goipp.TextWithLang:
		return s.Text, true
	case goipp.Binary:
		return string(s), true
	default:
		return "", false
	}
}
