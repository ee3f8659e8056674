package compare

import (
	"fmt"
	"sort"
	"strings"

	"dagtree/internal/manifest"
)

type ChangeType string

const (
	Added    ChangeType = "ADDED"
	Modified ChangeType = "MODIFIED"
	Deleted  ChangeType = "DELETED"
)

type Change struct {
	Type    ChangeType
	Path    string
	OldFile *manifest.File
	NewFile *manifest.File
}

type CompareResult struct {
	Added    []Change
	Modified []Change
	Deleted  []Change
	// RootChanged reports whether the manifests' Merkle roots differ.
	RootChanged bool
}

func (r *CompareResult) HasChanges() bool {
	return len(r.Added) > 0 || len(r.Modified) > 0 || len(r.Deleted) > 0
}

// Compare diffs two manifests by path. A file is modified when its
// content identifier changed; metadata alone does not count.
func Compare(oldManifest, newManifest *manifest.Manifest) *CompareResult {
	result := &CompareResult{
		Added:       make([]Change, 0),
		Modified:    make([]Change, 0),
		Deleted:     make([]Change, 0),
		RootChanged: oldManifest.MerkleRoot != newManifest.MerkleRoot,
	}

	oldFiles := index(oldManifest)
	newFiles := index(newManifest)

	for path, newFile := range newFiles {
		if oldFile, exists := oldFiles[path]; exists {
			if oldFile.Result.ID != newFile.Result.ID {
				result.Modified = append(result.Modified, Change{
					Type:    Modified,
					Path:    path,
					OldFile: oldFile,
					NewFile: newFile,
				})
			}
		} else {
			result.Added = append(result.Added, Change{
				Type:    Added,
				Path:    path,
				NewFile: newFile,
			})
		}
	}

	for path, oldFile := range oldFiles {
		if _, exists := newFiles[path]; !exists {
			result.Deleted = append(result.Deleted, Change{
				Type:    Deleted,
				Path:    path,
				OldFile: oldFile,
			})
		}
	}

	// Sort for deterministic output
	for _, changes := range [][]Change{result.Added, result.Modified, result.Deleted} {
		sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	}

	return result
}

func index(m *manifest.Manifest) map[string]*manifest.File {
	files := make(map[string]*manifest.File, len(m.Files))
	for i := range m.Files {
		files[m.Files[i].Path] = &m.Files[i]
	}
	return files
}

func FormatReport(result *CompareResult) string {
	if !result.HasChanges() {
		return "No changes detected."
	}

	var report strings.Builder
	report.WriteString("Changes detected:\n\n")

	if len(result.Added) > 0 {
		fmt.Fprintf(&report, "ADDED (%d files):\n", len(result.Added))
		for _, change := range result.Added {
			fmt.Fprintf(&report, "  + %s (id: %s, size: %d bytes)\n",
				change.Path, change.NewFile.Result.ID.Short(), change.NewFile.Result.FileSize)
		}
		report.WriteString("\n")
	}

	if len(result.Modified) > 0 {
		fmt.Fprintf(&report, "MODIFIED (%d files):\n", len(result.Modified))
		for _, change := range result.Modified {
			fmt.Fprintf(&report, "  ~ %s\n", change.Path)
			fmt.Fprintf(&report, "    Old: id=%s, size=%d bytes, modified=%s\n",
				change.OldFile.Result.ID.Short(), change.OldFile.Result.FileSize, change.OldFile.ModTime.Format("2006-01-02"))
			fmt.Fprintf(&report, "    New: id=%s, size=%d bytes, modified=%s\n",
				change.NewFile.Result.ID.Short(), change.NewFile.Result.FileSize, change.NewFile.ModTime.Format("2006-01-02"))
		}
		report.WriteString("\n")
	}

	if len(result.Deleted) > 0 {
		fmt.Fprintf(&report, "DELETED (%d files):\n", len(result.Deleted))
		for _, change := range result.Deleted {
			fmt.Fprintf(&report, "  - %s (id: %s, size: %d bytes)\n",
				change.Path, change.OldFile.Result.ID.Short(), change.OldFile.Result.FileSize)
		}
		report.WriteString("\n")
	}

	fmt.Fprintf(&report, "Summary: %d added, %d modified, %d deleted\n",
		len(result.Added), len(result.Modified), len(result.Deleted))

	return report.String()
}
