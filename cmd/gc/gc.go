// Command gc runs a single pass of the collection garbage collection
// orchestrator.
package main

import (
	"fmt"
	"os"

	"github.com/chroma-core/collectiongc/cmd/gc/app"
)

func main() {
	if err := app.Command().Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
