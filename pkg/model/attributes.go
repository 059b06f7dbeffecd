package model

// CopyAttributes deep-copies nested maps and slices. Scalars are shared.
func CopyAttributes(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return CopyAttributes(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	case []string:
		return cloneStrings(t)
	default:
		return v
	}
}

// MergeAttributes returns a new map holding dst overlaid with src. Nested
// maps merge recursively; any other src value replaces the dst value.
// Neither input is modified.
func MergeAttributes(dst, src map[string]interface{}) map[string]interface{} {
	if dst == nil && src == nil {
		return nil
	}
	out := CopyAttributes(dst)
	if out == nil {
		out = make(map[string]interface{}, len(src))
	}
	for k, v := range src {
		srcMap, srcIsMap := v.(map[string]interface{})
		dstMap, dstIsMap := out[k].(map[string]interface{})
		if srcIsMap && dstIsMap {
			out[k] = MergeAttributes(dstMap, srcMap)
			continue
		}
		out[k] = copyValue(v)
	}
	return out
}
