package s2s

import (
	"fmt"
	"strings"
)

// TranslationInstructions builds the default system prompt for a language
// pair. An empty source language lets the provider detect it.
func TranslationInstructions(source, target string) string {
	target = strings.TrimSpace(target)
	source = strings.TrimSpace(source)
	var b strings.Builder
	b.WriteString("You are a real-time interpreter. ")
	if source != "" {
		fmt.Fprintf(&b, "The speaker talks in %s. ", source)
	}
	fmt.Fprintf(&b, "Translate everything the speaker says into %s and speak only the translation. ", target)
	b.WriteString("Keep the speaker's tone and meaning. ")
	b.WriteString("Never answer questions or add commentary. ")
	b.WriteString("If the speaker is silent or unintelligible, say nothing.")
	return b.String()
}
