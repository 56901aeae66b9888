package main

import (
	"log"

	nhboraclefeedd "oraclechain/services/nhboraclefeedd"
)

func main() {
	if err := nhboraclefeedd.Main(); err != nil {
		log.Fatalf("nhboraclefeedd: %v", err)
	}
}
