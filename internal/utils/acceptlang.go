package utils

import (
	"sort"
	"strconv"
	"strings"
)

// Locales served by the API. The first entry is the fallback.
var Locales = []string{"en", "zh"}

// DetermineLocale picks the response locale. An explicit lang query value
// wins, then the highest-weighted Accept-Language entry, then def.
func DetermineLocale(queryLang, acceptLang string, supported []string, def string) string {
	sup := make(map[string]struct{}, len(supported))
	for _, s := range supported {
		sup[strings.ToLower(s)] = struct{}{}
	}
	match := func(tag string) (string, bool) {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			return "", false
		}
		if _, ok := sup[tag]; ok {
			return tag, true
		}
		// en-US -> en
		if i := strings.IndexAny(tag, "-_"); i > 0 {
			if _, ok := sup[tag[:i]]; ok {
				return tag[:i], true
			}
		}
		return "", false
	}

	if l, ok := match(queryLang); ok {
		return l
	}

	type weighted struct {
		lang string
		q    float64
	}
	var cands []weighted
	for _, part := range strings.Split(acceptLang, ",") {
		tag, params, _ := strings.Cut(part, ";")
		q := 1.0
		if k, v, ok := strings.Cut(strings.TrimSpace(params), "="); ok && strings.TrimSpace(k) == "q" {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				continue
			}
			q = f
		}
		if q <= 0 {
			continue
		}
		if l, ok := match(tag); ok {
			cands = append(cands, weighted{lang: l, q: q})
		}
	}
	if len(cands) > 0 {
		sort.SliceStable(cands, func(i, j int) bool { return cands[i].q > cands[j].q })
		return cands[0].lang
	}
	if l, ok := match(def); ok {
		return l
	}
	if len(supported) > 0 {
		return strings.ToLower(supported[0])
	}
	return "en"
}
