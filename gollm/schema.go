// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gollm

import (
	"reflect"
	"strings"

	"k8s.io/klog/v2"
)

// BuildSchemaFor builds the schema of a Go type from its json tags.
// Struct fields without ",omitempty" and not behind a pointer are required;
// a `description:"..."` tag becomes the field description.
func BuildSchemaFor(t reflect.Type) *Schema {
	out := &Schema{}

	switch t.Kind() {
	case reflect.Pointer:
		return BuildSchemaFor(t.Elem())
	case reflect.String:
		out.Type = TypeString
	case reflect.Bool:
		out.Type = TypeBoolean
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		out.Type = TypeInteger
	case reflect.Float32, reflect.Float64:
		out.Type = TypeNumber
	case reflect.Struct:
		out.Type = TypeObject
		out.Properties = make(map[string]*Schema)
		var required []string
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			name, optional, ok := jsonFieldName(field)
			if !ok {
				continue
			}
			if !optional && field.Type.Kind() != reflect.Pointer {
				required = append(required, name)
			}

			fieldSchema := BuildSchemaFor(field.Type)
			fieldSchema.Description = field.Tag.Get("description")
			out.Properties[name] = fieldSchema
		}
		out.Required = required
	case reflect.Map:
		out.Type = TypeObject
	case reflect.Slice, reflect.Array:
		out.Type = TypeArray
		out.Items = BuildSchemaFor(t.Elem())
	default:
		klog.Fatalf("unhandled kind %v", t.Kind())
	}

	return out
}

// jsonFieldName returns the JSON name of an exported, tagged field.
func jsonFieldName(field reflect.StructField) (name string, omitempty bool, ok bool) {
	if !field.IsExported() {
		return "", false, false
	}
	tag := field.Tag.Get("json")
	if tag == "" || tag == "-" {
		return "", false, false
	}
	name, opts, _ := strings.Cut(tag, ",")
	if name == "" {
		name = field.Name
	}
	for _, opt := range strings.Split(opts, ",") {
		if opt == "omitempty" || opt == "omitzero" {
			omitempty = true
		}
	}
	return name, omitempty, true
}
