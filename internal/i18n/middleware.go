package i18n

import (
	"net/http"

	"golang.org/x/text/language"
)

// Middleware resolves each request's language from the "lang" query
// parameter, then Accept-Language, then lang, and stores it in the context.
func Middleware(lang string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			l := Resolve(lang, r.URL.Query().Get("lang"), r.Header.Get("Accept-Language"))
			next.ServeHTTP(w, r.WithContext(WithLang(r.Context(), l)))
		})
	}
}

// Resolve returns the first preference that matches a loaded locale, as a
// base language code. Preferences may be plain tags or Accept-Language values.
func Resolve(fallback string, prefs ...string) string {
	tags := current().LanguageTags()
	if len(tags) == 0 {
		return fallback
	}
	matcher := language.NewMatcher(tags)
	for _, p := range prefs {
		if p == "" {
			continue
		}
		want, _, err := language.ParseAcceptLanguage(p)
		if err != nil || len(want) == 0 {
			continue
		}
		tag, _, conf := matcher.Match(want...)
		if conf == language.No {
			continue
		}
		base, _ := tag.Base()
		return base.String()
	}
	return fallback
}
