package ai

func stringProp() map[string]any {
	return map[string]any{"type": "string"}
}

func object(props map[string]any) map[string]any {
	required := make([]string, 0, len(props))
	for name := range props {
		required = append(required, name)
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

// snapshotResponseFormat is the strict JSON schema of crawler.Snapshot.
var snapshotResponseFormat = map[string]any{
	"type": "json_schema",
	"json_schema": map[string]any{
		"name":   "company_data",
		"strict": true,
		"schema": object(map[string]any{
			"company_name":          stringProp(),
			"company_email":         stringProp(),
			"company_location":      stringProp(),
			"company_phone":         stringProp(),
			"company_industry_type": stringProp(),
			"company_social_links": object(map[string]any{
				"linkedin":  stringProp(),
				"twitter":   stringProp(),
				"facebook":  stringProp(),
				"instagram": stringProp(),
				"youtube":   stringProp(),
				"other":     map[string]any{"type": "array", "items": stringProp()},
			}),
			"description": stringProp(),
			"company_persons": map[string]any{
				"type": "array",
				"items": object(map[string]any{
					"person_name":        stringProp(),
					"person_role":        stringProp(),
					"person_email":       stringProp(),
					"person_phone":       stringProp(),
					"person_description": stringProp(),
				}),
			},
		}),
	},
}
