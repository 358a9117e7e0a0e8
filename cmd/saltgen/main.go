// Command saltgen prints a fresh identity salt for IDENTITY_SALT.
package main

import (
	"crypto/rand"
	"flag"
	"fmt"
	"math/big"
	"os"
)

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

func main() {
	length := flag.Int("n", 128, "salt length")
	flag.Parse()

	salt, err := generate(*length)
	if err != nil {
		fmt.Fprintln(os.Stderr, "generating salt:", err)
		os.Exit(1)
	}
	fmt.Println(salt)
}

func generate(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("length must be positive, got %d", n)
	}
	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out), nil
}
