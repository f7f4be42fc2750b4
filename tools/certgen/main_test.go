package main

import (
	"bytes"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func readCert(t *testing.T, path string) *x509.Certificate {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read cert file: %v", err)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		t.Fatalf("expected CERTIFICATE PEM block; got %v", block)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}
	return cert
}

func TestRun_ServerBundle(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "certs")
	var out bytes.Buffer

	if err := run([]string{"-dir", dir, "-hosts", "localhost, vault.internal"}, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), dir) {
		t.Errorf("output = %q", out.String())
	}

	ca := readCert(t, filepath.Join(dir, "ca.crt"))
	if !ca.IsCA {
		t.Error("CA certificate should have IsCA=true")
	}

	srv := readCert(t, filepath.Join(dir, "server.crt"))
	if !reflect.DeepEqual(srv.DNSNames, []string{"localhost", "vault.internal"}) {
		t.Errorf("DNSNames = %v", srv.DNSNames)
	}
	if err := srv.CheckSignatureFrom(ca); err != nil {
		t.Errorf("server certificate not signed by CA: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "client.crt")); !os.IsNotExist(err) {
		t.Errorf("client certificate written without -client: %v", err)
	}
}

func TestRun_ClientCertificate(t *testing.T) {
	dir := t.TempDir()
	if err := run([]string{"-dir", dir, "-client", "alice@example.com"}, &bytes.Buffer{}); err != nil {
		t.Fatalf("run: %v", err)
	}

	ca := readCert(t, filepath.Join(dir, "ca.crt"))
	cl := readCert(t, filepath.Join(dir, "client.crt"))
	if cl.Subject.CommonName != "alice@example.com" {
		t.Errorf("CommonName = %q", cl.Subject.CommonName)
	}
	if err := cl.CheckSignatureFrom(ca); err != nil {
		t.Errorf("client certificate not signed by CA: %v", err)
	}
}

func TestRun_BadFlag(t *testing.T) {
	if err := run([]string{"-nope"}, &bytes.Buffer{}); err == nil {
		t.Error("expected error for unknown flag")
	}
}

func TestSplitHosts(t *testing.T) {
	got := splitHosts(" a, ,b ,")
	if !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("splitHosts = %v", got)
	}
}
