// Command tokenkey prints the posting keys derived for each token argument.
//
//	tokenkey -field 3 -max 127 bitmap internationalization
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/internal/tokenkey"
)

func main() {
	maxLen := flag.Uint("max", uint(tokenkey.DefaultMaxTokenLength), "token length clamp stored in the key (1-255)")
	field := flag.Uint("field", 0, "field id packed into the tags (0-127)")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: tokenkey [-max n] [-field id] token...")
		os.Exit(2)
	}
	if *maxLen == 0 || *maxLen > 255 {
		fmt.Fprintf(os.Stderr, "-max must be in 1..255, got %d\n", *maxLen)
		os.Exit(2)
	}
	if *field > 255 || !tokenkey.ValidField(uint8(*field)) {
		fmt.Fprintf(os.Stderr, "-field must be in 0..%d, got %d\n", tokenkey.MaxFieldID, *field)
		os.Exit(2)
	}
	if err := printKeys(os.Stdout, flag.Args(), uint8(*maxLen), uint8(*field)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printKeys(w io.Writer, tokens []string, maxLen, field uint8) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TOKEN\tLEN\tHASH\tUINT64\tKEY\tWORD\tSTEMMED")
	for _, tok := range tokens {
		key := tokenkey.DeriveString(tok, maxLen)
		raw := key.Bytes()
		word, stemmed := tokenkey.Word(field), tokenkey.Stemmed(field)
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t0x%02x\t0x%02x\n",
			strconv.Quote(tok),
			key.Len,
			hex.EncodeToString(key.Hash[:]),
			strconv.FormatUint(key.Uint64(), 10),
			hex.EncodeToString(raw[:]),
			uint8(word),
			uint8(stemmed),
		)
	}
	return tw.Flush()
}
