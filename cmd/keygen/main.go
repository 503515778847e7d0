// keygen mints license keys for offline provisioning. Keys are printed one
// per line; each is validated before printing.
package main

import (
	"flag"
	"fmt"
	"os"

	"salespoint/internal/license"
)

func main() {
	count := flag.Int("n", 1, "number of keys to generate")
	verify := flag.String("verify", "", "validate the given key instead of generating")
	flag.Parse()

	if *verify != "" {
		validation := license.ValidateKey(*verify)
		fmt.Printf("key:        %s\n", license.NormalizeKey(*verify))
		fmt.Printf("valid:      %t\n", validation.IsValid)
		fmt.Printf("confidence: %d\n", validation.Confidence)
		for _, issue := range validation.Issues {
			fmt.Printf("issue:      %s\n", issue)
		}
		if !validation.IsValid {
			os.Exit(1)
		}
		return
	}

	if *count < 1 {
		fmt.Fprintln(os.Stderr, "keygen: -n must be at least 1")
		os.Exit(2)
	}

	for i := 0; i < *count; i++ {
		key, err := license.GenerateKey()
		if err != nil {
			fmt.Fprintf(os.Stderr, "keygen: %v\n", err)
			os.Exit(1)
		}
		if validation := license.ValidateKey(key); !validation.IsValid {
			fmt.Fprintf(os.Stderr, "keygen: generated key failed validation: %s\n", license.MaskKey(key))
			os.Exit(1)
		}
		fmt.Println(key)
	}
}
