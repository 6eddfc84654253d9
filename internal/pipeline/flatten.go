package pipeline

import (
	"encoding/json"

	"open-data-insight/internal/model"
)

// flatten converts one JSON object into a flat record. Nested objects
// become dotted columns up to MaxFlattenDepth path segments; anything
// deeper, and every array, is kept as its compact JSON text.
func (n *Normalizer) flatten(obj *orderedObject) (model.Record, []string) {
	rec := make(model.Record, obj.Len())
	keys := make([]string, 0, obj.Len())
	n.flattenInto(rec, &keys, "", obj, 1)
	return rec, keys
}

func (n *Normalizer) flattenInto(rec model.Record, keys *[]string, prefix string, obj *orderedObject, depth int) {
	for _, k := range obj.keys {
		name := joinKey(prefix, k)
		switch v := obj.values[k].(type) {
		case *orderedObject:
			if v.Len() == 0 {
				setKey(rec, keys, name, model.NullValue())
			} else if depth < n.opts.MaxFlattenDepth {
				n.flattenInto(rec, keys, name, v, depth+1)
			} else {
				setKey(rec, keys, name, model.StringValue(compactJSON(v)))
			}
		case []any:
			if len(v) == 0 {
				setKey(rec, keys, name, model.NullValue())
			} else {
				setKey(rec, keys, name, model.StringValue(compactJSON(v)))
			}
		default:
			val, ok := model.FromAny(v)
			if !ok {
				val = model.StringValue(compactJSON(v))
			}
			setKey(rec, keys, name, val)
		}
	}
}

func setKey(rec model.Record, keys *[]string, name string, v model.Value) {
	if _, ok := rec[name]; !ok {
		*keys = append(*keys, name)
	}
	rec[name] = v
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func compactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// scalarText renders a decoded JSON scalar as a query parameter value.
func scalarText(v any) string {
	if val, ok := model.FromAny(v); ok {
		return val.String()
	}
	return compactJSON(v)
}
