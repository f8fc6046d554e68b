// Command corpus-crawler builds a topical text corpus from the web.
package main

import "github.com/JakeFAU/corpus-crawler/cmd"

func main() {
	cmd.Execute()
}
