package jq

import (
	"reflect"
)

// asMap распознаёт именованные типы с базовым map[string]any
// (domain.Params, domain.StepResult и подобные).
func asMap(v any) (map[string]any, bool) {
	if v == nil {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	if rv.Type().Elem().Kind() != reflect.Interface {
		return nil, false
	}
	m, ok := rv.Convert(reflect.TypeOf(map[string]any(nil))).Interface().(map[string]any)
	return m, ok
}
