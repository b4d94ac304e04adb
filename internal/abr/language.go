package abr

import (
	"golang.org/x/text/language"

	"github.com/jmylchreest/abrplay/internal/media"
)

func variantLanguage(v *media.Variant) string {
	if v.Language != "" {
		return v.Language
	}
	if v.Audio != nil {
		return v.Audio.Language
	}
	return ""
}

// PreferLanguage narrows variants to the audio language closest to pref.
// Variants are returned unchanged when pref is empty or nothing matches.
func PreferLanguage(variants []*media.Variant, pref string) []*media.Variant {
	if pref == "" {
		return variants
	}
	want, err := language.Parse(pref)
	if err != nil {
		return variants
	}

	var langs []string
	var tags []language.Tag
	seen := make(map[string]bool)
	for _, v := range variants {
		lang := variantLanguage(v)
		if lang == "" || seen[lang] {
			continue
		}
		tag, err := language.Parse(lang)
		if err != nil {
			continue
		}
		seen[lang] = true
		langs = append(langs, lang)
		tags = append(tags, tag)
	}
	if len(tags) == 0 {
		return variants
	}

	_, idx, conf := language.NewMatcher(tags).Match(want)
	if conf == language.No {
		return variants
	}
	match := langs[idx]

	out := make([]*media.Variant, 0, len(variants))
	for _, v := range variants {
		if variantLanguage(v) == match {
			out = append(out, v)
		}
	}
	return out
}
