package remote

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Client certificate file names written by Register.
const (
	ClientCertFile = "client.crt"
	ClientKeyFile  = "client.key"
)

// Register asks the record store at baseURL to issue a client certificate
// for login and saves the PEM pair into dir. The server is verified against
// the CA at caPath.
func Register(ctx context.Context, baseURL, login, caPath, dir string) error {
	caPool, err := loadCAPool(caPath)
	if err != nil {
		return err
	}
	client := &http.Client{
		Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: caPool, MinVersion: tls.VersionTLS12}},
		Timeout:   30 * time.Second,
	}

	b, err := json.Marshal(map[string]string{"login": login})
	if err != nil {
		return fmt.Errorf("encode register request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+PathRegister, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("build register request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("register failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("server error: %s", bytes.TrimSpace(data))
	}

	var certData struct {
		Cert string `json:"cert"`
		Key  string `json:"key"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&certData); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if certData.Cert == "" || certData.Key == "" {
		return errors.New("server returned an empty certificate")
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, ClientCertFile), []byte(certData.Cert), 0o600); err != nil {
		return fmt.Errorf("failed to save %s: %w", ClientCertFile, err)
	}
	if err := os.WriteFile(filepath.Join(dir, ClientKeyFile), []byte(certData.Key), 0o600); err != nil {
		return fmt.Errorf("failed to save %s: %w", ClientKeyFile, err)
	}
	return nil
}

// LoadClientCertificate builds an HTTP client that presents the given
// certificate and trusts only caFile.
func LoadClientCertificate(certFile, keyFile, caFile string, timeout time.Duration) (*http.Client, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client cert/key: %w", err)
	}
	caPool, err := loadCAPool(caFile)
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			RootCAs:      caPool,
			MinVersion:   tls.VersionTLS12,
		},
	}
	return &http.Client{Transport: transport, Timeout: timeout}, nil
}

// IdentityFromCertificate returns the Common Name of the certificate in
// certFile, which the record store uses as the caller's namespace.
func IdentityFromCertificate(certFile, keyFile string) (string, error) {
	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return "", fmt.Errorf("failed to load client cert/key: %w", err)
	}
	leaf, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		return "", fmt.Errorf("failed to parse client cert: %w", err)
	}
	return leaf.Subject.CommonName, nil
}

func loadCAPool(caPath string) (*x509.CertPool, error) {
	caCert, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA cert: %w", err)
	}
	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caCert) {
		return nil, errors.New("failed to parse CA cert")
	}
	return caPool, nil
}
