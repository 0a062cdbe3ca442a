// Command canguard runs a CAN safety gateway between a vehicle and a
// driving-assist camera, or replays a recorded candump log through the same
// safety policy offline.
//
//	canguard run    -config /etc/canguard.yaml
//	canguard replay -config /etc/canguard.yaml -mode nissan drive.log
package main

import (
	"fmt"
	"os"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: canguard <command> [flags]

commands:
  run      serve the configured buses through the safety policy
  replay   check a candump log against a safety policy
  modes    list the available safety policies
`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "run":
		err = runCmd(args)
	case "replay":
		err = replayCmd(args, os.Stdout)
	case "modes":
		for _, name := range policyNames() {
			fmt.Println(name)
		}
	case "-h", "-help", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "canguard: unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "canguard: %v\n", err)
		os.Exit(1)
	}
}
