package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
)

const defaultKeyLen = 32

func main() {
	if err := run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error while generating secret key: %v\n", err)
		os.Exit(1)
	}
}

// Print random hex key to sign access tokens with
// With --env the key is printed as a '.env' line
func run(w io.Writer, args []string) error {
	fs := pflag.NewFlagSet("gensecret", pflag.ContinueOnError)
	keyLen := fs.IntP("bytes", "b", defaultKeyLen, "Key length in bytes")
	asEnv := fs.Bool("env", false, "Print as SECRET_KEY=... line")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *keyLen < 16 {
		return fmt.Errorf("key must be at least 16 bytes, got %d", *keyLen)
	}

	b := make([]byte, *keyLen)
	if _, err := rand.Read(b); err != nil {
		return err
	}

	key := hex.EncodeToString(b)
	if *asEnv {
		key = "SECRET_KEY=" + key
	}
	_, err := fmt.Fprintln(w, key)
	return err
}
