// Package main generates the CA and server certificate of a gophvault
// server, and optionally a client certificate, into a directory.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/atinyakov/gophvault/internal/certgen"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "certgen:", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("certgen", flag.ContinueOnError)
	dir := fs.String("dir", "certs", "output directory")
	hosts := fs.String("hosts", "localhost,127.0.0.1", "comma-separated server host names and IPs")
	client := fs.String("client", "", "also issue a client certificate for this login")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := os.MkdirAll(*dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", *dir, err)
	}

	caCertPath := filepath.Join(*dir, certgen.CACertFile)
	caKeyPath := filepath.Join(*dir, certgen.CAKeyFile)
	certPEM, keyPEM, err := certgen.GenerateCA("gophvault CA")
	if err != nil {
		return err
	}
	if err := certgen.WritePair(caCertPath, caKeyPath, certPEM, keyPEM); err != nil {
		return err
	}
	caCert, caKey, err := certgen.LoadCACredentials(caCertPath, caKeyPath)
	if err != nil {
		return err
	}

	certPEM, keyPEM, err = certgen.GenerateServerCertificate(splitHosts(*hosts), caCert, caKey)
	if err != nil {
		return err
	}
	if err := certgen.WritePair(
		filepath.Join(*dir, certgen.ServerCertFile),
		filepath.Join(*dir, certgen.ServerKeyFile),
		certPEM, keyPEM,
	); err != nil {
		return err
	}

	if *client != "" {
		certPEM, keyPEM, err = certgen.GenerateUserCertificate(*client, caCert, caKey)
		if err != nil {
			return err
		}
		if err := certgen.WritePair(
			filepath.Join(*dir, "client.crt"),
			filepath.Join(*dir, "client.key"),
			certPEM, keyPEM,
		); err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "Certificates generated into %s\n", *dir)
	return nil
}

func splitHosts(s string) []string {
	var hosts []string
	for _, h := range strings.Split(s, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}
