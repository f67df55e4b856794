package llm

// NormalizeSchema 返回输入 JSON Schema 的深拷贝，并补齐严格厂商要求的字段：
// 缺少 items 的数组补上 {"type":"string"}，顶层缺省时补成空 object。
func NormalizeSchema(schema map[string]any) map[string]any {
	if len(schema) == 0 {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	out := normalizeNode(schema)
	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}
	if out["type"] == "object" {
		if _, ok := out["properties"]; !ok {
			out["properties"] = map[string]any{}
		}
	}
	return out
}

// StripSchemaKeys 返回删除了指定关键字（任意深度）的拷贝。
func StripSchemaKeys(schema map[string]any, keys ...string) map[string]any {
	drop := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		drop[k] = struct{}{}
	}
	return stripNode(schema, drop)
}

func normalizeNode(node map[string]any) map[string]any {
	out := make(map[string]any, len(node)+1)
	for k, v := range node {
		out[k] = v
	}

	if isArrayType(out["type"]) {
		if _, ok := out["items"]; !ok {
			out["items"] = map[string]any{"type": "string"}
		}
	}

	if props, ok := out["properties"].(map[string]any); ok {
		fixed := make(map[string]any, len(props))
		for name, prop := range props {
			if child, ok := prop.(map[string]any); ok {
				fixed[name] = normalizeNode(child)
			} else {
				fixed[name] = prop
			}
		}
		out["properties"] = fixed
	}

	if items, ok := out["items"].(map[string]any); ok {
		out["items"] = normalizeNode(items)
	}
	if extra, ok := out["additionalProperties"].(map[string]any); ok {
		out["additionalProperties"] = normalizeNode(extra)
	}

	for _, key := range []string{"anyOf", "oneOf", "allOf"} {
		list, ok := out[key].([]any)
		if !ok {
			continue
		}
		fixed := make([]any, len(list))
		for i, entry := range list {
			if child, ok := entry.(map[string]any); ok {
				fixed[i] = normalizeNode(child)
			} else {
				fixed[i] = entry
			}
		}
		out[key] = fixed
	}
	return out
}

func isArrayType(v any) bool {
	switch t := v.(type) {
	case string:
		return t == "array"
	case []any:
		for _, entry := range t {
			if s, ok := entry.(string); ok && s == "array" {
				return true
			}
		}
	case []string:
		for _, s := range t {
			if s == "array" {
				return true
			}
		}
	}
	return false
}

func stripNode(node map[string]any, drop map[string]struct{}) map[string]any {
	out := make(map[string]any, len(node))
	for k, v := range node {
		if _, skip := drop[k]; skip {
			continue
		}
		out[k] = stripValue(v, drop)
	}
	return out
}

func stripValue(v any, drop map[string]struct{}) any {
	switch t := v.(type) {
	case map[string]any:
		return stripNode(t, drop)
	case []any:
		out := make([]any, len(t))
		for i, entry := range t {
			out[i] = stripValue(entry, drop)
		}
		return out
	default:
		return v
	}
}
