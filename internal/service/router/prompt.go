package router

// preamble is the fixed instruction prefix; the router concatenates it with
// the extracted content and does not otherwise mutate it.
const preamble = `You are a precise summarization assistant. Summarize the following document ` +
	`content faithfully and concisely. Preserve key facts, names, and figures. ` +
	`Respond with the summary text only.`

// BuildPrompt joins the fixed preamble with the content.
func BuildPrompt(content string) string {
	return preamble + "\n\n" + content
}
