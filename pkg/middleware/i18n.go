package middleware

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/iota-uz/go-i18n/v2/i18n"
	"golang.org/x/text/language"

	"github.com/fsystem/portal/pkg/intl"
)

type LocalizerSource interface {
	Bundle() *i18n.Bundle
	GetSupportedLanguages() []string
}

func languageTags(codes []string) []language.Tag {
	supported := intl.GetSupportedLanguages(codes)
	tags := make([]language.Tag, len(supported))
	for i, lang := range supported {
		tags[i] = lang.Tag
	}
	return tags
}

// matchLocale picks the best supported tag for the Accept-Language header,
// or the first supported tag when nothing matches.
func matchLocale(header string, supported []language.Tag) language.Tag {
	if len(supported) == 0 {
		return language.English
	}
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return supported[0]
	}
	_, idx, conf := language.NewMatcher(supported).Match(tags...)
	if conf == language.No {
		return supported[0]
	}
	return supported[idx]
}

func ProvideLocalizer(src LocalizerSource) mux.MiddlewareFunc {
	bundle := src.Bundle()
	supported := languageTags(src.GetSupportedLanguages())
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			locale := matchLocale(r.Header.Get("Accept-Language"), supported)
			ctx := intl.WithLocalizer(r.Context(), i18n.NewLocalizer(bundle, locale.String()))
			ctx = intl.WithLocale(ctx, locale)
			w.Header().Set("Content-Language", locale.String())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
