package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/superset-studio/cloudchain/internal/models"
	"gopkg.in/yaml.v3"
)

// writeCredentials prints an export as an array of {Service, Username,
// Secret} objects. The caller passes them already sorted.
func writeCredentials(w io.Writer, creds []models.Credential, format string) error {
	if creds == nil {
		creds = []models.Credential{}
	}

	switch format {
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(creds); err != nil {
			return fmt.Errorf("encode export as yaml: %w", err)
		}
		return enc.Close()
	default:
		data, err := json.MarshalIndent(creds, "", "  ")
		if err != nil {
			return fmt.Errorf("encode export as json: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
}
