// Command ghga-connector uploads and downloads files through the GHGA
// federated archive's transfer services, encrypting and decrypting them
// with Crypt4GH envelopes end to end.
package main

import (
	"os"

	"github.com/ghga-de/ghga-connector/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
