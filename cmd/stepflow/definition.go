package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/web"
)

// cliOwner owns every workflow loaded from a file.
const cliOwner = "cli"

// loadDefinition reads a YAML (or JSON) workflow file. The file name is the
// workflow id unless the file sets one.
func loadDefinition(path string) (*models.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}

	var req web.CreateWorkflowRequest
	if err := yaml.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse workflow file %s: %w", path, err)
	}

	if req.ID == "" {
		req.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	return req.ToDefinition(cliOwner)
}
