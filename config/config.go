// Package config reads parameter files for the surface detection pipeline.
//
// A parameter file is a JSON object, optionally nested by namespace, whose values may reference
// environment variables (${VAR} or ${VAR:-default}). Values are decoded into structs by their
// json tags.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/a8m/envsubst"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

// Params is a decoded parameter tree.
type Params map[string]interface{}

// ConfigurationError reports a missing or malformed parameter. Field is the full parameter path.
type ConfigurationError struct {
	Field string
	Err   error
}

// NewConfigurationError returns a ConfigurationError for the given parameter path.
func NewConfigurationError(field string, err error) error {
	return &ConfigurationError{Field: field, Err: err}
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %v", e.Err)
	}
	return fmt.Sprintf("configuration error at %q: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// ReadParams reads the parameter file at path, substituting environment variables.
func ReadParams(path string) (Params, error) {
	buf, err := envsubst.ReadFile(path)
	if err != nil {
		return nil, NewConfigurationError("", errors.Wrapf(err, "cannot read parameter file %q", path))
	}
	return FromReader(bytes.NewReader(buf))
}

// FromReader decodes an already substituted parameter document.
func FromReader(r io.Reader) (Params, error) {
	var params Params
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&params); err != nil {
		return nil, NewConfigurationError("", errors.Wrap(err, "cannot parse parameters"))
	}
	if params == nil {
		return nil, NewConfigurationError("", errors.New("parameter document is empty"))
	}
	return params, nil
}

func splitNamespace(ns string) []string {
	return strings.FieldsFunc(ns, func(r rune) bool { return r == '/' || r == '.' })
}

// Namespace returns the subtree of params under ns. Namespace segments are separated by "/" or
// ".". An empty namespace returns params itself.
func Namespace(params Params, ns string) (Params, error) {
	cur := params
	var walked []string
	for _, part := range splitNamespace(ns) {
		walked = append(walked, part)
		next, ok := cur[part]
		if !ok {
			return nil, NewConfigurationError(strings.Join(walked, "/"), errors.New("namespace not found"))
		}
		m, err := cast.ToStringMapE(next)
		if err != nil {
			return nil, NewConfigurationError(strings.Join(walked, "/"), errors.Wrap(err, "namespace is not an object"))
		}
		cur = m
	}
	return cur, nil
}

// Decode decodes params into out, a pointer to a struct with json tags. Keys are matched
// loosely typed so "0.5" decodes into a float64; unknown keys are an error.
func Decode(params Params, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       jsonNumberHook,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(map[string]interface{}(params)); err != nil {
		return NewConfigurationError("", err)
	}
	return nil
}

func jsonNumberHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	n, ok := data.(json.Number)
	if !ok {
		return data, nil
	}
	switch to.Kind() {
	case reflect.Float32, reflect.Float64:
		return n.Float64()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return n.Int64()
	case reflect.String:
		return n.String(), nil
	default:
		return cast.ToFloat64E(n.String())
	}
}

// Float64 reads a single numeric parameter, accepting strings produced by substitution.
func Float64(params Params, key string) (float64, error) {
	v, ok := params[key]
	if !ok {
		return 0, NewConfigurationError(key, errors.New("missing parameter"))
	}
	if n, ok := v.(json.Number); ok {
		v = n.String()
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, NewConfigurationError(key, err)
	}
	return f, nil
}

// Int reads a single integer parameter.
func Int(params Params, key string) (int, error) {
	v, ok := params[key]
	if !ok {
		return 0, NewConfigurationError(key, errors.New("missing parameter"))
	}
	if n, ok := v.(json.Number); ok {
		v = n.String()
	}
	i, err := cast.ToIntE(v)
	if err != nil {
		return 0, NewConfigurationError(key, err)
	}
	return i, nil
}

// String reads a single string parameter.
func String(params Params, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", NewConfigurationError(key, errors.New("missing parameter"))
	}
	return cast.ToStringE(v)
}
