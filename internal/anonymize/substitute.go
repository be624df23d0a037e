// Package anonymize implements reversible substitution of patient identity
// and other identifying entities in clinical text.
package anonymize

// Anonymize replaces every form of the real identity in text with the
// matching form of the pseudonym.
func Anonymize(text string, ctx Context) string {
	return ctx.forward.Replace(text)
}

// Deanonymize restores the real identity in text produced from an
// anonymized prompt.
func Deanonymize(text string, ctx Context) string {
	return ctx.inverse.Replace(text)
}
