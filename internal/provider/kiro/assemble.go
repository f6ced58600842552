package kiro

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/sicyuan404/proxycast/internal/domain"
)

// siblingCreds mirrors the handful of fields the original KiroCredentials
// struct carries that this side-scan cares about; everything else in a
// sibling file is ignored.
type siblingCreds struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

// AssembleKiroFile fills a Kiro credential's ClientID/ClientSecret when the
// main credentials file didn't carry them: first by following ClientIDHash
// to "<hash>.json" in the same directory, then by scanning every other
// *.json file in that directory for the first one that has both fields.
// Mirrors the original's load_credentials side-scan, minus its directory
// walk order guarantees (os.ReadDir is already lexicographic).
func AssembleKiroFile(cred *domain.Credential) {
	if cred.Payload.ClientID != "" && cred.Payload.ClientSecret != "" {
		return
	}
	if cred.Payload.FilePath == "" {
		return
	}
	dir := filepath.Dir(cred.Payload.FilePath)

	if cred.Payload.ClientIDHash != "" {
		hashPath := filepath.Join(dir, cred.Payload.ClientIDHash+".json")
		if applySiblingFile(cred, hashPath) {
			return
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		candidate := filepath.Join(dir, entry.Name())
		if candidate == cred.Payload.FilePath {
			continue
		}
		if applySiblingFile(cred, candidate) {
			return
		}
	}
}

// applySiblingFile reads path and merges in a client_id/client_secret pair
// if both are present and the credential doesn't already have them. Returns
// true once the credential is fully assembled.
func applySiblingFile(cred *domain.Credential, path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var sc siblingCreds
	if err := json.Unmarshal(data, &sc); err != nil {
		return false
	}
	if sc.ClientID == "" || sc.ClientSecret == "" {
		return false
	}
	if cred.Payload.ClientID == "" {
		cred.Payload.ClientID = sc.ClientID
	}
	if cred.Payload.ClientSecret == "" {
		cred.Payload.ClientSecret = sc.ClientSecret
	}
	return cred.Payload.ClientID != "" && cred.Payload.ClientSecret != ""
}
