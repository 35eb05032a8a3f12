// The main package for the tripscrape executable.
package main

import "github.com/barrydaniels-nl/tripadvisor-scraper/cmd"

func main() {
	cmd.Execute()
}
