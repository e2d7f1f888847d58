package sidecar

import (
	"strings"

	"github.com/beevik/etree"
)

// Fields maps sidecar field names to their values.
type Fields map[string]string

// Strategy extracts a partial field map from one schema shape.
type Strategy struct {
	Name string
	// Extract returns the fields it found and whether its shape was present
	// in the document at all.
	Extract func(root *etree.Element) (Fields, bool)
}

// Strategies is the order in which schema shapes are merged. A later
// strategy overwrites an earlier one on key collision.
var Strategies = []Strategy{
	{Name: "index_elements", Extract: indexElements},
	{Name: "field_elements", Extract: fieldElements},
	{Name: "property_elements", Extract: propertyElements},
	{Name: "direct_child_elements", Extract: directChildren},
}

// Merge applies strategies in order and merges their output, last writer
// wins. It also returns the names of the strategies whose shape was present.
func Merge(root *etree.Element, strategies []Strategy) (Fields, []string) {
	merged := make(Fields)
	var applied []string
	if root == nil {
		return merged, applied
	}

	for _, s := range strategies {
		fields, ok := s.Extract(root)
		if !ok {
			continue
		}
		applied = append(applied, s.Name)
		for k, v := range fields {
			merged[k] = v
		}
	}

	return merged, applied
}

// <index name="USER NAME" value="Jane"/> or <index><name>..</name><value>..</value></index>
func indexElements(root *etree.Element) (Fields, bool) {
	elems := root.FindElements(".//index")
	fields := make(Fields)
	for _, el := range elems {
		name := attrOrChild(el, "name")
		value := attrOrChild(el, "value")
		if name != "" && value != "" {
			fields[name] = value
		}
	}
	return fields, len(elems) > 0
}

// <field name="USER NAME">Jane</field>
func fieldElements(root *etree.Element) (Fields, bool) {
	elems := root.FindElements(".//field")
	fields := make(Fields)
	for _, el := range elems {
		name := el.SelectAttrValue("name", "")
		value := el.Text()
		if name != "" && value != "" {
			fields[name] = value
		}
	}
	return fields, len(elems) > 0
}

// <property name="USER NAME" value="Jane"/> or <property name="USER NAME">Jane</property>
func propertyElements(root *etree.Element) (Fields, bool) {
	elems := root.FindElements(".//property")
	fields := make(Fields)
	for _, el := range elems {
		name := el.SelectAttrValue("name", "")
		value := el.SelectAttrValue("value", "")
		if value == "" {
			value = el.Text()
		}
		if name != "" && value != "" {
			fields[name] = value
		}
	}
	return fields, len(elems) > 0
}

// <USER_NAME>Jane</USER_NAME> directly under the root.
func directChildren(root *etree.Element) (Fields, bool) {
	children := root.ChildElements()
	fields := make(Fields)
	for _, child := range children {
		if text := strings.TrimSpace(child.Text()); text != "" {
			fields[child.Tag] = text
		}
	}
	return fields, len(children) > 0
}

func attrOrChild(el *etree.Element, name string) string {
	if v := el.SelectAttrValue(name, ""); v != "" {
		return v
	}
	if child := el.SelectElement(name); child != nil {
		return child.Text()
	}
	return ""
}
