package main

import (
	"log"

	"subledger/services/ledgerd"
)

func main() {
	if err := ledgerd.Main(); err != nil {
		log.Fatalf("subledgerd: %v", err)
	}
}
