package pipeline

import (
	"log/slog"
	"os"
	"path/filepath"

	"mkv-converter/internal/config"
	"mkv-converter/internal/planner"
	"mkv-converter/internal/scanner"
	"mkv-converter/pkg/models"
)

// Status of an input relative to its expected output.
const (
	StatusConverted = "converted"
	StatusPending   = "pending"
)

// InventoryEntry is one discovered input and where its output would go.
type InventoryEntry struct {
	Input      models.InputDescriptor
	OutputPath string
	Status     string
}

// Inventory lists the eligible inputs without planning jobs or creating
// directories.
func Inventory(s config.Settings, logger *slog.Logger) ([]InventoryEntry, error) {
	inputs, err := scanner.New(s.SourceExtension, logger).Scan(s.InputRoot)
	if err != nil {
		return nil, err
	}
	root, err := filepath.Abs(s.OutputRoot)
	if err != nil {
		return nil, err
	}

	entries := make([]InventoryEntry, 0, len(inputs))
	for _, in := range inputs {
		entry := InventoryEntry{Input: in, Status: StatusPending}
		if out, err := planner.OutputPath(root, in.RelPath, s.OutputSuffix()); err == nil {
			entry.OutputPath = out
			if info, err := os.Stat(out); err == nil && info.Size() > 0 {
				entry.Status = StatusConverted
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
