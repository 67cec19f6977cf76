// Command peermention is a peer-to-peer Webmention endpoint.
package main

import "github.com/mesh-intelligence/peermention/internal/cli"

func main() {
	cli.Execute()
}
