// Command shortlinker is the URL-shortening service and its management
// CLI in one binary: `shortlinker serve` runs the server, the remaining
// commands talk to it over IPC or fall back to direct storage access.
package main

import "github.com/esap-cc/shortlinker/internal/cli"

func main() {
	cli.Execute()
}
