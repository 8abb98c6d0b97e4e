// Package translate localizes user-visible ucboot messages.
package translate

import (
	"log"

	"github.com/jeandeaual/go-locale"

	"golang.org/x/text/message"
)

var printer *message.Printer

func init() {
	locales, err := locale.GetLocales()
	if err != nil {
		log.Printf("ucboot: locale: %v", err)
	}

	if len(locales) == 0 {
		locales = []string{"en-US"}
	}

	printer = message.NewPrinter(message.MatchLanguage(locales...))
}

// From an en-US Sprintf() format, translate to string.
func From(key message.Reference, args ...any) string {
	return printer.Sprintf(key, args...)
}

// Plural selects between a singular and plural en-US format by count,
// then translates it. The count is passed as the first format argument.
func Plural(count int, one, many message.Reference, args ...any) string {
	key := many
	if count == 1 {
		key = one
	}
	return printer.Sprintf(key, append([]any{count}, args...)...)
}
