package tagger

import (
	"strings"
)

// Fixed textual fallbacks substituted when the model returns nothing usable.
var tagDefaults = map[string]struct {
	title, description, genre, keyword string
}{
	LangFrench: {
		title:       "Image sans titre",
		description: "Aucune description disponible",
		genre:       "Non classé",
		keyword:     "image",
	},
	LangEnglish: {
		title:       "Untitled image",
		description: "No description available",
		genre:       "Uncategorized",
		keyword:     "image",
	},
}

// defaultTagRecord is the minimal record used when every generative attempt
// failed. errMsg is preserved under error_gemini so the failure surfaces in
// the output without masquerading as a success.
func defaultTagRecord(lang, errMsg string) *TagRecord {
	rec := repairTagRecord(&TagRecord{}, lang)
	rec.ErrorGemini = errMsg
	return rec
}

// repairTagRecord enforces the TagRecord invariants: title, description and
// main genre are never empty, keyword fields are always non-empty lists, and
// the combined keyword list is recomputed as the de-duplicated concatenation
// of content keywords then technical characteristics, preserving
// first-occurrence order.
func repairTagRecord(rec *TagRecord, lang string) *TagRecord {
	d, ok := tagDefaults[lang]
	if !ok {
		d = tagDefaults[LangFrench]
	}

	rec.Title = strings.TrimSpace(rec.Title)
	if rec.Title == "" {
		rec.Title = d.title
	}
	rec.Description = strings.TrimSpace(rec.Description)
	if rec.Description == "" {
		rec.Description = d.description
	}
	rec.MainGenre = strings.TrimSpace(rec.MainGenre)
	if rec.MainGenre == "" {
		rec.MainGenre = d.genre
	}

	rec.ContentKeywords = repairKeywords(rec.ContentKeywords, d.keyword)
	rec.TechnicalCharacteristics = repairKeywords(rec.TechnicalCharacteristics, d.keyword)
	rec.Keywords = mergeKeywords(rec.ContentKeywords, rec.TechnicalCharacteristics)

	return rec
}

// repairKeywords normalizes a keyword list: single comma-separated strings
// are split, blanks removed, and an empty result replaced by the fallback.
func repairKeywords(ks []string, fallback string) []string {
	out := []string{}
	for _, k := range ks {
		for _, part := range strings.Split(k, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	if len(out) == 0 {
		return []string{fallback}
	}
	return out
}

// mergeKeywords concatenates and de-duplicates, keeping first occurrences.
func mergeKeywords(lists ...[]string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, l := range lists {
		for _, k := range l {
			key := strings.ToLower(k)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, k)
		}
	}
	return out
}

// stringsFromAny coerces a loosely-typed model field into a string list.
// Strings are comma-split; anything else yields nil and is repaired later.
func stringsFromAny(v any) []string {
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return t
	case string:
		return []string{t}
	}
	return nil
}

func stringFromAny(v any) string {
	s, _ := v.(string)
	return s
}
