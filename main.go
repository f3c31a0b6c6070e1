// main.go
//
// Entry point; the CLI lives in cmd/.

package main

import (
	"fms-api/cmd"
)

func main() {
	cmd.Execute()
}
