package schema

import (
	"bytes"
	"encoding/json"
	"reflect"

	"github.com/cockroachdb/errors"
	"github.com/invopop/jsonschema"
	jsv "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ggoodman/mcp-dispatch-go/mcp"
	"github.com/ggoodman/mcp-dispatch-go/mcperr"
)

// Output is a compiled JSON Schema that a tool's structured result must
// satisfy.
type Output struct {
	raw      json.RawMessage
	compiled *jsv.Schema
	shape    *mcp.ToolOutputSchema
}

// CompileOutput compiles a JSON Schema document. name only identifies the
// schema in error messages.
func CompileOutput(name string, doc []byte) (*Output, error) {
	url := "mem://output/" + name + ".json"
	c := jsv.NewCompiler()
	c.Draft = jsv.Draft2020
	if err := c.AddResource(url, bytes.NewReader(doc)); err != nil {
		return nil, errors.Wrapf(err, "add output schema %s", name)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, errors.Wrapf(err, "compile output schema %s", name)
	}
	return &Output{raw: append(json.RawMessage(nil), doc...), compiled: compiled}, nil
}

// ReflectOutput derives the output schema of struct type O.
func ReflectOutput[O any](name string) (*Output, error) {
	t := reflect.TypeFor[O]()
	r := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true, Anonymous: true}
	doc, err := json.Marshal(r.ReflectFromType(t))
	if err != nil {
		return nil, errors.Wrapf(err, "marshal output schema %s", name)
	}
	out, err := CompileOutput(name, doc)
	if err != nil {
		return nil, err
	}
	if ps, err := ReflectType(t); err == nil {
		out.shape = ps.OutputSchema()
	}
	return out, nil
}

// Raw returns the schema document.
func (o *Output) Raw() json.RawMessage { return o.raw }

// Shape returns the simplified descriptor advertised in tool listings, or
// nil when the schema was not derived from a struct.
func (o *Output) Shape() *mcp.ToolOutputSchema { return o.shape }

// Validate checks v, a Go value that encodes to JSON, against the schema and
// returns it as decoded JSON.
func (o *Output) Validate(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.CodeInternal, err, "encode structured output")
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, mcperr.Wrap(mcperr.CodeInternal, err, "decode structured output")
	}
	if err := o.compiled.Validate(doc); err != nil {
		e := mcperr.New(mcperr.CodeInternal, "structured output does not match the declared schema")
		var ve *jsv.ValidationError
		if errors.As(err, &ve) {
			e.Fields = leafFaults(ve, nil)
		}
		e.Cause = err
		return nil, e
	}
	m, ok := doc.(map[string]any)
	if !ok {
		return nil, mcperr.New(mcperr.CodeInternal, "structured output must be an object, got %s", kindOf(doc))
	}
	return m, nil
}

func leafFaults(ve *jsv.ValidationError, out []mcperr.FieldError) []mcperr.FieldError {
	if len(ve.Causes) == 0 {
		path := ve.InstanceLocation
		if path == "" {
			path = "/"
		}
		return append(out, mcperr.FieldError{Path: path, Reason: mcperr.ReasonTypeMismatch, Message: ve.Message})
	}
	for _, c := range ve.Causes {
		out = leafFaults(c, out)
	}
	return out
}
