// Command csvmerge merges CSV, JSON and HTML-table files into one CSV laid out
// by a target schema, detecting and applying column transformations.
//
// Local use works on a JSON job file:
//
//	csvmerge validate --config job.json
//	csvmerge merge --config job.json -o merged.csv
//
// The serve command runs the HTTP API backed by the storage kind named in
// csvmerge.yaml (sqlite by default).
package main

import (
	"fmt"
	"os"

	// register all backends with the storage factory.
	_ "csvmerge/internal/storage/all"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
