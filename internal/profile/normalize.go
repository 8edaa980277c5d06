package profile

import (
	"strconv"
	"strings"
	"time"
)

// Normalize reconciles a raw church record, in either the authoring-side or
// the read-side shape, into the canonical Profile. It is pure and total:
// malformed sub-objects degrade to zero values instead of failing the record.
func Normalize(raw map[string]any) *Profile {
	p := &Profile{}
	if raw == nil {
		p.Status = StatusDraft
		p.Classification = ClassificationNone
		p.Images = []string{}
		return p
	}

	p.ID = asString(raw["id"])
	p.Name = asString(raw["name"])
	p.Diocese = asString(raw["diocese"])
	p.Town = asString(raw["town"])
	p.Province = asString(raw["province"])
	p.Patron = asString(raw["patron"])
	p.Description = asString(raw["description"])
	p.FoundingYear = asInt(raw["foundingYear"])
	p.CreatedBy = asString(raw["createdBy"])
	p.Version = int64(asInt(raw["version"]))
	p.CreatedAt = asTime(raw["createdAt"])
	p.UpdatedAt = asTime(raw["updatedAt"])
	p.DataConsent = asBool(raw["dataConsent"])
	p.PhotoConsent = asBool(raw["photoConsent"])

	p.Status = Status(asString(raw["status"]))
	if !ValidStatus(p.Status) {
		p.Status = StatusDraft
	}

	// The classification may sit under the current key or the legacy one.
	// The heritage boolean is derived from the classification whenever a
	// classification key is present; a stored flag is only trusted when
	// neither key exists, since the flag can go stale.
	if v, ok := raw["heritageClassification"]; ok {
		p.Classification = normalizeClassification(asString(v))
		p.Heritage = p.Classification.IsHeritage()
	} else if v, ok := raw["classification"]; ok {
		p.Classification = normalizeClassification(asString(v))
		p.Heritage = p.Classification.IsHeritage()
	} else {
		p.Classification = ClassificationNone
		p.Heritage = asBool(raw["isHeritage"])
	}

	p.Images = flattenImages(raw["images"])

	// Coordinates arrive at the top level on the read side and nested under
	// a coordinates sub-object on the authoring side.
	p.Latitude = asFloatPtr(raw["latitude"])
	p.Longitude = asFloatPtr(raw["longitude"])
	if coords, ok := raw["coordinates"].(map[string]any); ok {
		if p.Latitude == nil {
			p.Latitude = firstFloatPtr(coords["latitude"], coords["lat"])
		}
		if p.Longitude == nil {
			p.Longitude = firstFloatPtr(coords["longitude"], coords["lng"])
		}
	}

	p.Pending = normalizePending(raw["pendingChanges"])

	return p
}

// Canonical serializes the profile back to the canonical raw shape.
// Normalize(p.Canonical()) yields a profile identical to p.
func (p *Profile) Canonical() map[string]any {
	raw := map[string]any{
		"id":                     p.ID,
		"name":                   p.Name,
		"diocese":                p.Diocese,
		"town":                   p.Town,
		"province":               p.Province,
		"patron":                 p.Patron,
		"description":            p.Description,
		"foundingYear":           p.FoundingYear,
		"heritageClassification": string(p.Classification),
		"isHeritage":             p.Heritage,
		"images":                 p.Images,
		"dataConsent":            p.DataConsent,
		"photoConsent":           p.PhotoConsent,
		"status":                 string(p.Status),
		"version":                int(p.Version),
		"createdBy":              p.CreatedBy,
		"createdAt":              p.CreatedAt,
		"updatedAt":              p.UpdatedAt,
	}
	if p.Latitude != nil {
		raw["latitude"] = *p.Latitude
	}
	if p.Longitude != nil {
		raw["longitude"] = *p.Longitude
	}
	if p.Pending != nil {
		raw["hasPendingChanges"] = true
		raw["pendingChanges"] = map[string]any{
			"changedFields":     p.Pending.ChangedFields,
			"proposedValues":    p.Pending.ProposedValues,
			"submittedAt":       p.Pending.SubmittedAt,
			"submittedBy":       p.Pending.SubmittedBy,
			"forwardedToMuseum": p.Pending.ForwardedToMuseum,
			"reviewNotes":       p.Pending.ReviewNotes,
		}
	} else {
		raw["hasPendingChanges"] = false
	}
	return raw
}

func normalizePending(v any) *PendingChange {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	pc := &PendingChange{
		SubmittedAt:       asTime(m["submittedAt"]),
		SubmittedBy:       asString(m["submittedBy"]),
		ForwardedToMuseum: asBool(m["forwardedToMuseum"]),
		ReviewNotes:       asString(m["reviewNotes"]),
	}
	if fields, ok := m["changedFields"].([]any); ok {
		for _, f := range fields {
			if s := asString(f); s != "" {
				pc.ChangedFields = append(pc.ChangedFields, s)
			}
		}
	} else if fields, ok := m["changedFields"].([]string); ok {
		pc.ChangedFields = append(pc.ChangedFields, fields...)
	}
	if values, ok := m["proposedValues"].(map[string]any); ok {
		pc.ProposedValues = values
	}
	// An overlay with no recorded change is a corrupt block, not a staged
	// edit; degrade to no overlay.
	if len(pc.ChangedFields) == 0 || len(pc.ProposedValues) == 0 {
		return nil
	}
	return pc
}

func normalizeClassification(s string) Classification {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	switch Classification(s) {
	case ClassificationICP, ClassificationNCT:
		return Classification(s)
	}
	switch s {
	case "icp":
		return ClassificationICP
	case "nct":
		return ClassificationNCT
	}
	return ClassificationNone
}

// flattenImages accepts strings, {url: …} objects, and arrays nested to any
// depth, producing an ordered list of URL strings. Malformed entries are
// dropped, never propagated as errors.
func flattenImages(v any) []string {
	out := []string{}
	var walk func(any)
	walk = func(v any) {
		switch t := v.(type) {
		case string:
			if t != "" {
				out = append(out, t)
			}
		case map[string]any:
			if url := asString(t["url"]); url != "" {
				out = append(out, url)
			}
		case []any:
			for _, item := range t {
				walk(item)
			}
		case []string:
			for _, item := range t {
				walk(item)
			}
		}
	}
	walk(v)
	return out
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case Classification:
		return string(t)
	case Status:
		return string(t)
	}
	return ""
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "true"
	}
	return false
}

func asInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n
		}
	}
	return 0
}

func asFloatPtr(v any) *float64 {
	switch t := v.(type) {
	case float64:
		return &t
	case int:
		f := float64(t)
		return &f
	case *float64:
		if t == nil {
			return nil
		}
		f := *t
		return &f
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return &f
		}
	}
	return nil
}

func firstFloatPtr(values ...any) *float64 {
	for _, v := range values {
		if f := asFloatPtr(v); f != nil {
			return f
		}
	}
	return nil
}

func asTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		if ts, err := time.Parse(time.RFC3339, t); err == nil {
			return ts
		}
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts
		}
	}
	return time.Time{}
}
