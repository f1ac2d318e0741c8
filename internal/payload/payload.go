// Package payload decodes flat JSON telemetry payloads into tagged values
// and projects their numeric subset.
package payload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var (
	ErrMalformedJSON = errors.New("malformed JSON")
	ErrNotObject     = errors.New("payload is not a JSON object")
)

// Kind tags the variant held by a Value
type Kind int

const (
	KindNull Kind = iota
	KindNumber
	KindString
	KindBool
	KindObject
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	default:
		return "unknown"
	}
}

// Value is one decoded JSON value. Numbers keep their literal text so
// integers and floats can be told apart.
type Value struct {
	kind   Kind
	number json.Number
	str    string
	b      bool
	object Document
	array  []Value
}

// Number wraps a numeric literal
func Number(n json.Number) Value {
	return Value{kind: KindNumber, number: n}
}

// String wraps a string
func String(s string) Value {
	return Value{kind: KindString, str: s}
}

// Bool wraps a boolean
func Bool(b bool) Value {
	return Value{kind: KindBool, b: b}
}

// Null is the JSON null value. It is also the zero Value.
func Null() Value {
	return Value{kind: KindNull}
}

// Object wraps a nested document
func Object(d Document) Value {
	return Value{kind: KindObject, object: d}
}

// Array wraps a list of values
func Array(items []Value) Value {
	return Value{kind: KindArray, array: items}
}

// Kind reports which variant v holds
func (v Value) Kind() Kind {
	return v.kind
}

// Str returns the string payload, or "" when v is not a string
func (v Value) Str() string {
	return v.str
}

// Boolean returns the boolean payload, or false when v is not a bool
func (v Value) Boolean() bool {
	return v.b
}

// Members returns the nested document, or nil when v is not an object
func (v Value) Members() Document {
	return v.object
}

// Items returns the array elements, or nil when v is not an array
func (v Value) Items() []Value {
	return v.array
}

// Numeric returns the value as an int64 for integer literals or a float64
// otherwise. ok is false for non-numbers.
func (v Value) Numeric() (interface{}, bool) {
	if v.kind != KindNumber {
		return nil, false
	}
	text := v.number.String()
	if !strings.ContainsAny(text, ".eE") {
		if i, err := strconv.ParseInt(text, 10, 64); err == nil {
			return i, true
		}
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, false
	}
	return f, true
}

// Interface converts the value back to plain Go types for logging and JSON
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindNumber:
		n, _ := v.Numeric()
		return n
	case KindString:
		return v.str
	case KindBool:
		return v.b
	case KindObject:
		return v.object.Interface()
	case KindArray:
		out := make([]interface{}, len(v.array))
		for i, item := range v.array {
			out[i] = item.Interface()
		}
		return out
	default:
		return nil
	}
}

// Document is a decoded top-level payload object
type Document map[string]Value

// Decode parses one complete JSON object. Syntax errors wrap
// ErrMalformedJSON; anything else that is not an object wraps ErrNotObject.
func Decode(data []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after object", ErrMalformedJSON)
	}

	obj, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrNotObject, raw)
	}
	return fromMap(obj)
}

func fromMap(obj map[string]interface{}) (Document, error) {
	doc := make(Document, len(obj))
	for k, raw := range obj {
		v, err := fromInterface(raw)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		doc[k] = v
	}
	return doc, nil
}

func fromInterface(raw interface{}) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case json.Number:
		return Number(t), nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case map[string]interface{}:
		doc, err := fromMap(t)
		if err != nil {
			return Value{}, err
		}
		return Object(doc), nil
	case []interface{}:
		items := make([]Value, len(t))
		for i, item := range t {
			v, err := fromInterface(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return Array(items), nil
	default:
		return Value{}, fmt.Errorf("unsupported JSON type %T", raw)
	}
}

// Numeric projects the numeric entries into a field set. Strings, bools,
// nulls, objects and arrays are dropped.
func (d Document) Numeric() map[string]interface{} {
	fields := make(map[string]interface{}, len(d))
	for k, v := range d {
		switch v.Kind() {
		case KindNumber:
			if n, ok := v.Numeric(); ok {
				fields[k] = n
			}
		case KindString, KindBool, KindNull, KindObject, KindArray:
			// non-numeric
		}
	}
	return fields
}

// Text returns the string member named key, if present
func (d Document) Text(key string) (string, bool) {
	v, ok := d[key]
	if !ok || v.Kind() != KindString {
		return "", false
	}
	return v.Str(), true
}

// Interface converts the document to a plain map
func (d Document) Interface() map[string]interface{} {
	out := make(map[string]interface{}, len(d))
	for k, v := range d {
		out[k] = v.Interface()
	}
	return out
}
