// Command tally keeps soccer season standings.
package main

import "github.com/mesh-intelligence/tally/internal/cli"

func main() {
	cli.Execute()
}
