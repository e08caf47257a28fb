// Command giopview renders instrumentation record logs written by
// the JSON sink. It loads a file (or follows it like tail -f) and
// prints one aligned key/value block per record, so profile output
// can be inspected while the instrumented process runs.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mongodb/grip"
	"github.com/papertrail/go-tail/follower"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func main() {
	follow := flag.Bool("follow", false, "watch the file for new records")
	category := flag.String("category", "", "only show records with this category")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: giopview [-follow] [-category name] <record-log.json>")
		os.Exit(2)
	}

	if err := run(flag.Arg(0), *follow, *category); err != nil {
		grip.EmergencyFatal(err)
	}
}

func run(path string, follow bool, category string) error {
	if follow {
		tail, err := follower.New(path, follower.Config{Reopen: true})
		if err != nil {
			return errors.Wrapf(err, "following record log %s", path)
		}
		defer tail.Close()

		for line := range tail.Lines() {
			printRecord(line.String(), category)
		}
		return errors.Wrap(tail.Err(), "reading followed record log")
	}

	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "opening record log %s", path)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	for scanner.Scan() {
		printRecord(scanner.Text(), category)
	}
	return errors.Wrap(scanner.Err(), "reading record log")
}

// printRecord parses one record line into an order-preserving
// document and renders it. Lines that do not parse are shown raw
// rather than dropped; a record log may be mid-write when followed.
func printRecord(line string, category string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	var doc bson.D
	if err := bson.UnmarshalExtJSON([]byte(line), false, &doc); err != nil {
		fmt.Println(line)
		return
	}

	if category != "" && !hasValue(doc, "category", category) {
		return
	}

	width := 0
	for _, elem := range doc {
		if len(elem.Key) > width {
			width = len(elem.Key)
		}
	}
	for _, elem := range doc {
		fmt.Printf("  %-*s  %v\n", width, elem.Key, elem.Value)
	}
	fmt.Println()
}

func hasValue(doc bson.D, key, want string) bool {
	for _, elem := range doc {
		if elem.Key != key {
			continue
		}
		if s, ok := elem.Value.(string); ok {
			return s == want
		}
	}
	return false
}
