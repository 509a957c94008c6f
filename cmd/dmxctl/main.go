// dmxctl is the CLI front-end for the Linux client library (spec.md §6):
// enable | disable | blackout | set <slot> <v[,v,...]> | status | timing
// [hz [break [mab]]].
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pierrejay/dmxgateway/client"
)

func mainImpl() error {
	var device string
	var jsonOut, quiet, help bool
	flag.StringVar(&device, "d", client.DefaultDevice, "tty device path")
	flag.StringVar(&device, "device", client.DefaultDevice, "tty device path")
	flag.BoolVar(&jsonOut, "json", false, "emit JSON on stdout")
	flag.BoolVar(&quiet, "q", false, "suppress non-error output")
	flag.BoolVar(&quiet, "quiet", false, "suppress non-error output")
	flag.BoolVar(&help, "help", false, "print usage")
	flag.Parse()

	args := flag.Args()
	if help || len(args) == 0 {
		printUsage()
		return nil
	}

	c, err := client.Open(device)
	if err != nil {
		return err
	}
	defer c.Close()

	cmd := args[0]
	rest := args[1:]

	switch cmd {
	case "enable":
		return report(jsonOut, quiet, "ok", nil, c.Enable())
	case "disable":
		return report(jsonOut, quiet, "ok", nil, c.Disable())
	case "blackout":
		return report(jsonOut, quiet, "ok", nil, c.Blackout())
	case "set":
		return runSet(c, rest, jsonOut, quiet)
	case "status":
		return runStatus(c, jsonOut, quiet)
	case "timing":
		return runTiming(c, rest, jsonOut, quiet)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func runSet(c *client.Client, args []string, jsonOut, quiet bool) error {
	if len(args) != 2 {
		return errors.New("usage: set <slot> <v[,v,...]>")
	}
	slot, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid slot %q: %w", args[0], err)
	}
	var values []byte
	for _, tok := range strings.Split(args[1], ",") {
		v, err := strconv.Atoi(tok)
		if err != nil || v < 0 || v > 255 {
			return fmt.Errorf("invalid channel value %q", tok)
		}
		values = append(values, byte(v))
	}
	return report(jsonOut, quiet, "ok", nil, c.SetChannels(slot, values))
}

func runStatus(c *client.Client, jsonOut, quiet bool) error {
	st, err := c.Status()
	if err != nil {
		return report(jsonOut, quiet, "", nil, err)
	}
	return report(jsonOut, quiet, "status", st, nil)
}

func runTiming(c *client.Client, args []string, jsonOut, quiet bool) error {
	if len(args) == 0 {
		t, err := c.GetTiming()
		if err != nil {
			return report(jsonOut, quiet, "", nil, err)
		}
		return report(jsonOut, quiet, "timing", t, nil)
	}
	var hz, breakUs, mabUs uint16
	if v, err := parseU16(args, 0); err == nil {
		hz = v
	} else if err != errMissing {
		return err
	}
	if v, err := parseU16(args, 1); err == nil {
		breakUs = v
	} else if err != errMissing {
		return err
	}
	if v, err := parseU16(args, 2); err == nil {
		mabUs = v
	} else if err != errMissing {
		return err
	}
	return report(jsonOut, quiet, "ok", nil, c.SetTiming(hz, breakUs, mabUs))
}

var errMissing = errors.New("missing argument")

func parseU16(args []string, i int) (uint16, error) {
	if i >= len(args) {
		return 0, errMissing
	}
	v, err := strconv.Atoi(args[i])
	if err != nil || v < 0 || v > 65535 {
		return 0, fmt.Errorf("invalid timing value %q", args[i])
	}
	return uint16(v), nil
}

func report(jsonOut, quiet bool, status string, data interface{}, err error) error {
	if jsonOut {
		if err != nil {
			_ = json.NewEncoder(os.Stdout).Encode(map[string]string{"status": "error", "error": err.Error()})
			return errSilent
		}
		_ = json.NewEncoder(os.Stdout).Encode(map[string]interface{}{"status": status, "data": data})
		return nil
	}
	if err != nil {
		return err
	}
	if !quiet {
		if data != nil {
			fmt.Printf("%+v\n", data)
		} else {
			fmt.Println(status)
		}
	}
	return nil
}

// errSilent signals mainImpl's caller to exit(1) without printing anything
// further to stderr — the --json path has already written the error to
// stdout per spec.md §6.
var errSilent = errors.New("")

func printUsage() {
	fmt.Println(`usage: dmxctl [-d|--device <path>] [--json] [--quiet|-q] <command> [args]

commands:
  enable
  disable
  blackout
  set <slot> <v[,v,...]>
  status
  timing [hz [break [mab]]]`)
}

func main() {
	if err := mainImpl(); err != nil {
		if err.Error() != "" {
			fmt.Fprintf(os.Stderr, "dmxctl: %s.\n", err)
		}
		os.Exit(1)
	}
}
