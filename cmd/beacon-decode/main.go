// Command beacon-decode prints the payload carried by a billing or consent
// beacon URL.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"enforce/internal/reporting"
)

func main() {
	compact := pflag.Bool("compact", false, "print the payload without indentation")
	pflag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: beacon-decode [--compact] [URL...]")
		fmt.Fprintln(os.Stderr, "URLs are read from stdin, one per line, when none are given.")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	urls := pflag.Args()
	if len(urls) == 0 {
		var err error
		if urls, err = readLines(os.Stdin); err != nil {
			fmt.Fprintf(os.Stderr, "read stdin: %v\n", err)
			os.Exit(1)
		}
	}

	failed := false
	for _, u := range urls {
		if err := decode(os.Stdout, u, *compact); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", u, err)
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

type output struct {
	Type     reporting.BeaconType `json:"type"`
	Sequence int                  `json:"n"`
	ClientID string               `json:"c"`
	Instance string               `json:"i"`
	Path     string               `json:"p"`
	Payload  json.RawMessage      `json:"payload"`
}

func decode(w io.Writer, rawURL string, compact bool) error {
	d, err := reporting.DecodeURL(rawURL)
	if err != nil {
		return err
	}

	payload := d.Payload
	if !compact {
		var buf bytes.Buffer
		if err := json.Indent(&buf, d.Payload, "  ", "  "); err != nil {
			return fmt.Errorf("payload is not JSON: %w", err)
		}
		payload = buf.Bytes()
	}

	out := output{
		Type:     d.Type,
		Sequence: d.Sequence,
		ClientID: d.Query.Get("c"),
		Instance: d.Query.Get("i"),
		Path:     d.Query.Get("p"),
		Payload:  payload,
	}
	enc := json.NewEncoder(w)
	if !compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(out)
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 4<<20)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}
