package tagger

import (
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"
	"strings"
)

// ServiceAccount is the subset of a Google service-account credentials file
// the tagger validates before any remote call is attempted.
type ServiceAccount struct {
	Type        string `json:"type"`
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	ProjectID   string `json:"project_id"`
}

// LoadServiceAccount reads and validates a credentials file. Malformed or
// incomplete files are rejected here so configuration errors surface before
// processing starts.
func LoadServiceAccount(path string) (*ServiceAccount, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	var sa ServiceAccount
	if err := json.Unmarshal(bs, &sa); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	if !strings.Contains(sa.ClientEmail, "@") {
		return nil, fmt.Errorf("credentials missing a valid client_email")
	}
	if block, _ := pem.Decode([]byte(sa.PrivateKey)); block == nil {
		return nil, fmt.Errorf("credentials private_key is not PEM-formatted")
	}
	if sa.ProjectID == "" {
		return nil, fmt.Errorf("credentials missing project_id")
	}
	return &sa, nil
}
