// Command journalcrawler collects journal metadata from OpenAlex and enriches
// it from Crossref, DOAJ, NLM, Wikidata and Wikipedia.
package main

import "github.com/JakeFAU/journal-crawler/cmd"

func main() {
	cmd.Execute()
}
