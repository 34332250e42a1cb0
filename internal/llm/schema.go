package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/spherical/register-extractor/internal/domain"
)

const responseSchema = `{
  "type": "object",
  "required": ["registers"],
  "properties": {
    "registers": {"type": "array"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "metadata": {"type": "object"}
  }
}`

const registerSchema = `{
  "type": "object",
  "required": ["address", "name"],
  "properties": {
    "address": {
      "oneOf": [
        {"type": "integer", "minimum": 1, "maximum": 4294967295},
        {"type": "string", "pattern": "^\\s*(0[xX][0-9a-fA-F]+|[0-9]+)\\s*$"}
      ]
    },
    "name": {"type": "string", "minLength": 1},
    "datatype": {"type": ["string", "null"]},
    "description": {"type": ["string", "null"]},
    "writable": {"type": ["boolean", "string", "null"]}
  }
}`

var (
	fencedJSON = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")
	fencedAny  = regexp.MustCompile("(?s)```\\s*(.*?)\\s*```")
)

// ParsedResponse is a schema-checked, coerced model answer
type ParsedResponse struct {
	Registers  []domain.ModbusRegister
	Confidence float64
	Rejected   int
	Issues     []string
}

// ResponseValidator enforces the response contract on model output.
// A malformed envelope fails the whole response; a malformed record is
// dropped and counted.
type ResponseValidator struct {
	response *jsonschema.Schema
	register *jsonschema.Schema
}

// NewResponseValidator compiles the response schemas.
func NewResponseValidator() (*ResponseValidator, error) {
	response, err := compileSchema("response.json", responseSchema)
	if err != nil {
		return nil, err
	}
	register, err := compileSchema("register.json", registerSchema)
	if err != nil {
		return nil, err
	}
	return &ResponseValidator{response: response, register: register}, nil
}

func compileSchema(name, src string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(src)); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return schema, nil
}

// Parse recovers the JSON object from raw model text, validates it and
// coerces each record into a ModbusRegister.
func (v *ResponseValidator) Parse(raw string) (*ParsedResponse, error) {
	doc, err := recoverJSON(raw)
	if err != nil {
		return nil, domain.ExternalError("extraction response is not valid JSON", err)
	}

	if err := v.response.Validate(doc); err != nil {
		return nil, domain.ExternalError("extraction response does not match schema", err)
	}

	obj := doc.(map[string]any)
	out := &ParsedResponse{}

	if c, ok := obj["confidence"].(json.Number); ok {
		out.Confidence, _ = c.Float64()
	}

	for i, item := range obj["registers"].([]any) {
		if err := v.register.Validate(item); err != nil {
			out.Rejected++
			out.Issues = append(out.Issues, fmt.Sprintf("record %d: %s", i, firstLine(err.Error())))
			continue
		}
		reg, err := coerceRegister(item.(map[string]any))
		if err != nil {
			out.Rejected++
			out.Issues = append(out.Issues, fmt.Sprintf("record %d: %v", i, err))
			continue
		}
		out.Registers = append(out.Registers, reg)
	}

	return out, nil
}

// recoverJSON finds the JSON object in a model answer: as-is, inside a code
// fence, or between the outermost braces.
func recoverJSON(raw string) (any, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, errors.New("empty response")
	}

	candidates := []string{text}
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		candidates = append(candidates, m[1])
	}
	if m := fencedAny.FindStringSubmatch(text); m != nil {
		candidates = append(candidates, m[1])
	}
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		candidates = append(candidates, text[start:end+1])
	}

	for _, c := range candidates {
		if doc, err := decodeJSON(c); err == nil {
			return doc, nil
		}
	}
	return nil, fmt.Errorf("no JSON object found in %d bytes of output", len(text))
}

func decodeJSON(s string) (any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON value")
	}
	return v, nil
}

func coerceRegister(m map[string]any) (domain.ModbusRegister, error) {
	addr, err := coerceAddress(m["address"])
	if err != nil {
		return domain.ModbusRegister{}, err
	}

	reg := domain.ModbusRegister{
		Address:  addr,
		Name:     strings.TrimSpace(m["name"].(string)),
		Datatype: domain.DatatypeUnknown,
	}
	if reg.Name == "" {
		return domain.ModbusRegister{}, errors.New("name is blank")
	}
	if dt, ok := m["datatype"].(string); ok {
		reg.Datatype = domain.NormalizeDatatype(dt)
	}
	if desc, ok := m["description"].(string); ok {
		reg.Description = strings.TrimSpace(desc)
	}
	reg.Writable = coerceWritable(m["writable"])

	return reg, nil
}

func coerceAddress(v any) (uint32, error) {
	var n uint64
	switch a := v.(type) {
	case json.Number:
		f, err := a.Float64()
		if err != nil || f != math.Trunc(f) {
			return 0, fmt.Errorf("address %s is not an integer", a)
		}
		if f < 1 || f > math.MaxUint32 {
			return 0, fmt.Errorf("address %s is out of range", a)
		}
		n = uint64(f)
	case string:
		s := strings.TrimSpace(a)
		var err error
		if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
			n, err = strconv.ParseUint(s[2:], 16, 32)
		} else {
			n, err = strconv.ParseUint(s, 10, 32)
		}
		if err != nil {
			return 0, fmt.Errorf("address %q: %w", a, err)
		}
	default:
		return 0, fmt.Errorf("address has unsupported type %T", v)
	}
	if n < 1 {
		return 0, errors.New("address must be at least 1")
	}
	return uint32(n), nil
}

func coerceWritable(v any) bool {
	switch w := v.(type) {
	case bool:
		return w
	case string:
		switch strings.ToLower(strings.TrimSpace(w)) {
		case "true", "yes", "r/w", "rw", "read/write", "w", "wo", "write", "write only", "write-only":
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
