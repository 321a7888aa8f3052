package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

var httpClient = &http.Client{Timeout: 15 * time.Second}

// authedRequest issues a request against the Admin API, attaching the
// saved Bearer token if one exists. body is marshaled as JSON when
// non-nil.
func authedRequest(method, path string, body any) (*http.Response, error) {
	serverURL := viper.GetString("server")

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, serverURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token, err := loadToken(); err == nil && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return httpClient.Do(req)
}

func loadToken() (string, error) {
	path, err := tokenFilePath()
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func saveToken(token string) error {
	path, err := tokenFilePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(token), 0600)
}

func readErrorBody(resp *http.Response) string {
	body, _ := io.ReadAll(resp.Body)
	return string(body)
}
