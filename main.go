package main

import (
	"fmt"
	"os"

	"github.com/liliang-cn/docqa/cmd/docqa"
)

var version = "0.1.0"

func main() {
	docqa.SetVersion(version)
	if err := docqa.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
