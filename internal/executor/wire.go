// Wire encoding for Value: spec §4.6/§4.7/§4.8 pass arguments as
// `Map<String,Value>` and results as `Value`, both serialized as plain
// JSON (base64-wrapped on the command line, raw in event payloads) — never
// as a JSON object mirroring Value's Go field layout. ArgsToJSON/ValueToJSON
// and ValueFromJSON are the two directions of that natural encoding, shared
// by every executor (dockerexec, remoteexec) and by internal/supervisor on
// the container side.
package executor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// ArgsToJSON renders args as the name-keyed JSON object spec §4.6 calls
// `Map<String,Value>`, pairing each entry with its FunctionExt parameter
// name by position.
func ArgsToJSON(parameters []string, args []Value) (map[string]interface{}, error) {
	if len(parameters) != len(args) {
		return nil, fmt.Errorf("executor: %d parameters but %d arguments", len(parameters), len(args))
	}
	out := make(map[string]interface{}, len(args))
	for i, v := range args {
		jv, err := ValueToJSON(v)
		if err != nil {
			return nil, err
		}
		out[parameters[i]] = jv
	}
	return out, nil
}

// ValueToJSON renders v as a plain JSON value: null, a bool, a number, a
// string, or an array of the same, recursively. Service values have no
// wire representation as an argument or a result and are rejected.
func ValueToJSON(v Value) (interface{}, error) {
	switch v.Kind {
	case ValueUnit:
		return nil, nil
	case ValueBool:
		return v.Bool, nil
	case ValueInt:
		return v.Int, nil
	case ValueReal:
		return v.Real, nil
	case ValueString:
		return v.Str, nil
	case ValueArray:
		out := make([]interface{}, len(v.Array))
		for i, e := range v.Array {
			jv, err := ValueToJSON(e)
			if err != nil {
				return nil, err
			}
			out[i] = jv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("executor: value kind %d has no JSON wire representation", v.Kind)
	}
}

// ValueFromJSON is ValueToJSON's inverse, inferring a Value's kind from a
// decoded JSON value's Go type (spec §4.7 step 5: "base64 -> UTF-8 -> JSON
// -> Value").
func ValueFromJSON(raw json.RawMessage) (Value, error) {
	var decoded interface{}
	if len(raw) == 0 {
		return Value{Kind: ValueUnit}, nil
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Value{}, fmt.Errorf("executor: decode JSON value: %w", err)
	}
	return valueFromAny(decoded)
}

func valueFromAny(decoded interface{}) (Value, error) {
	switch d := decoded.(type) {
	case nil:
		return Value{Kind: ValueUnit}, nil
	case bool:
		return Value{Kind: ValueBool, Bool: d}, nil
	case string:
		return Value{Kind: ValueString, Str: d}, nil
	case float64:
		if d == float64(int64(d)) {
			return Value{Kind: ValueInt, Int: int64(d)}, nil
		}
		return Value{Kind: ValueReal, Real: d}, nil
	case []interface{}:
		elems := make([]Value, len(d))
		for i, e := range d {
			ev, err := valueFromAny(e)
			if err != nil {
				return Value{}, err
			}
			elems[i] = ev
		}
		return Value{Kind: ValueArray, Array: elems}, nil
	default:
		return Value{}, fmt.Errorf("executor: JSON value of type %T has no Value representation", decoded)
	}
}

// EncodeArgsB64 renders parameters/args as base64(json(Map<String,Value>)),
// the third element of every backend's command vector (spec §4.7 step 2,
// §4.8 step 2).
func EncodeArgsB64(parameters []string, args []Value) (string, error) {
	obj, err := ArgsToJSON(parameters, args)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return "", fmt.Errorf("executor: marshal arguments: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
