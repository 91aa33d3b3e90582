package crawler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// RawKind tags the variant held by a RawValue.
type RawKind uint8

// RawValue variants.
const (
	RawNull RawKind = iota
	RawString
	RawNumber
	RawBool
	RawList
	RawMap
)

func (k RawKind) String() string {
	switch k {
	case RawNull:
		return "null"
	case RawString:
		return "string"
	case RawNumber:
		return "number"
	case RawBool:
		return "bool"
	case RawList:
		return "list"
	case RawMap:
		return "object"
	default:
		return "unknown"
	}
}

// RawValue is the loosely-typed value produced by an extraction strategy:
// a scalar, an ordered list, or an ordered map.
type RawValue struct {
	Kind RawKind
	// Text holds the string, the JSON number literal, or "true"/"false".
	Text   string
	Items  []RawValue
	Fields []Field
}

// Field is one named entry of a map value or record.
type Field struct {
	Name  string
	Value RawValue
}

// RawRecord is an ordered field-name → value mapping returned by an extractor.
type RawRecord []Field

// Get returns the first field with the given name.
func (r RawRecord) Get(name string) (RawValue, bool) {
	for _, f := range r {
		if f.Name == name {
			return f.Value, true
		}
	}
	return RawValue{}, false
}

// Null returns the null value.
func Null() RawValue { return RawValue{Kind: RawNull} }

// String wraps a string scalar.
func String(s string) RawValue { return RawValue{Kind: RawString, Text: s} }

// Number wraps a JSON number literal.
func Number(lit string) RawValue { return RawValue{Kind: RawNumber, Text: lit} }

// Bool wraps a boolean scalar.
func Bool(b bool) RawValue {
	if b {
		return RawValue{Kind: RawBool, Text: "true"}
	}
	return RawValue{Kind: RawBool, Text: "false"}
}

// List wraps an ordered list.
func List(items ...RawValue) RawValue { return RawValue{Kind: RawList, Items: items} }

// Map wraps an ordered map.
func Map(fields ...Field) RawValue { return RawValue{Kind: RawMap, Fields: fields} }

// IsBlank reports null, empty or whitespace-only strings, and empty collections.
func (v RawValue) IsBlank() bool {
	switch v.Kind {
	case RawNull:
		return true
	case RawString:
		return strings.TrimSpace(v.Text) == ""
	case RawList:
		return len(v.Items) == 0
	case RawMap:
		return len(v.Fields) == 0
	default:
		return false
	}
}

// IsScalar reports string, number and bool values.
func (v RawValue) IsScalar() bool {
	return v.Kind == RawString || v.Kind == RawNumber || v.Kind == RawBool
}

// Stringify renders the value as text. Maps and lists become compact JSON.
func (v RawValue) Stringify() string {
	if v.IsScalar() {
		return v.Text
	}
	if v.Kind == RawNull {
		return ""
	}
	data, err := rawJSON.Marshal(v.toAny())
	if err != nil {
		return fmt.Sprint(v.toAny())
	}
	return string(data)
}

func (v RawValue) toAny() any {
	switch v.Kind {
	case RawString:
		return v.Text
	case RawNumber:
		return json.Number(v.Text)
	case RawBool:
		return v.Text == "true"
	case RawList:
		out := make([]any, len(v.Items))
		for i, item := range v.Items {
			out[i] = item.toAny()
		}
		return out
	case RawMap:
		out := make(map[string]any, len(v.Fields))
		for _, f := range v.Fields {
			out[f.Name] = f.Value.toAny()
		}
		return out
	default:
		return nil
	}
}

var rawJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// DecodeRawValue parses JSON into a RawValue, preserving object key order.
func DecodeRawValue(data []byte) (RawValue, error) {
	if !rawJSON.Valid(data) {
		return RawValue{}, errors.New("decode raw value: invalid json")
	}
	iter := jsoniter.ParseBytes(rawJSON, data)
	v := readRawValue(iter)
	if iter.Error != nil && !errors.Is(iter.Error, io.EOF) {
		return RawValue{}, fmt.Errorf("decode raw value: %w", iter.Error)
	}
	return v, nil
}

func readRawValue(iter *jsoniter.Iterator) RawValue {
	switch iter.WhatIsNext() {
	case jsoniter.NilValue:
		iter.ReadNil()
		return Null()
	case jsoniter.StringValue:
		return String(iter.ReadString())
	case jsoniter.NumberValue:
		return Number(string(iter.ReadNumber()))
	case jsoniter.BoolValue:
		return Bool(iter.ReadBool())
	case jsoniter.ArrayValue:
		items := []RawValue{}
		iter.ReadArrayCB(func(it *jsoniter.Iterator) bool {
			items = append(items, readRawValue(it))
			return it.Error == nil
		})
		return List(items...)
	case jsoniter.ObjectValue:
		fields := []Field{}
		iter.ReadObjectCB(func(it *jsoniter.Iterator, key string) bool {
			fields = append(fields, Field{Name: key, Value: readRawValue(it)})
			return it.Error == nil
		})
		return Map(fields...)
	default:
		iter.Skip()
		iter.ReportError("readRawValue", "unexpected json token")
		return Null()
	}
}

// RecordsFromValue splits a script result into records: an object is one record,
// an array yields one record per element, and a scalar is wrapped as {"value": x}.
func RecordsFromValue(v RawValue) []RawRecord {
	switch v.Kind {
	case RawNull:
		return nil
	case RawMap:
		return []RawRecord{RawRecord(v.Fields)}
	case RawList:
		records := make([]RawRecord, 0, len(v.Items))
		for _, item := range v.Items {
			switch item.Kind {
			case RawNull:
				continue
			case RawMap:
				records = append(records, RawRecord(item.Fields))
			default:
				records = append(records, RawRecord{{Name: "value", Value: item}})
			}
		}
		return records
	default:
		return []RawRecord{{{Name: "value", Value: v}}}
	}
}
