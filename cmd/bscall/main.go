// bscall is the top-level driver of spec §4.H/§6: "plan" prints a contig
// pool assignment, "run" drives the task/asset scheduler over a pipeline
// config, and "merge-stats" folds per-pool JSON stats files into one.
package main

import (
	"fmt"
	"os"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <plan|run|merge-stats> [OPTIONS]\n", os.Args[0])
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	shutdown := grail.Init()
	defer shutdown()

	sub := os.Args[1]
	args := os.Args[2:]
	var err error
	switch sub {
	case "plan":
		err = runPlan(args)
	case "run":
		err = runRun(args)
	case "merge-stats":
		err = runMergeStats(args)
	case "-h", "-help", "--help":
		usage()
		return
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Panicf("%v", err)
	}
}
