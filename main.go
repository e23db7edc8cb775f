// Command sitemap-crawler collects the product URLs listed in a site's sitemap
// index and writes them to a sorted, deduplicated CSV.
package main

import (
	"github.com/JakeFAU/sitemap-crawler/cmd"
)

func main() {
	cmd.Execute()
}
