package main

import (
	"fmt"
	"os"

	"github.com/openclaw/remote-signer-go/internal/util"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: go run scripts/hash-token.go <api-token>\n")
		os.Exit(1)
	}

	hash, err := util.HashAPIToken(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(hash)
}
