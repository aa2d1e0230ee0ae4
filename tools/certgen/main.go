// Package main writes a development CA and server certificate for running
// the account server over HTTPS:
//
//	go run ./tools/certgen -dir certs -hosts localhost,127.0.0.1
//	server -tls-cert certs/server.crt -tls-key certs/server.key
//	client --url https://localhost:8080/api --ca certs/ca.crt
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/atinyakov/CargoDesk/internal/certgen"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("certgen", flag.ContinueOnError)
	dir := fs.String("dir", "certs", "output directory")
	hosts := fs.String("hosts", "localhost,127.0.0.1", "comma-separated server host names and IPs")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var list []string
	for _, h := range strings.Split(*hosts, ",") {
		if h = strings.TrimSpace(h); h != "" {
			list = append(list, h)
		}
	}
	if err := certgen.WriteDevCerts(*dir, list); err != nil {
		return err
	}
	fmt.Printf("Certificates generated into %s\n", *dir)
	return nil
}
