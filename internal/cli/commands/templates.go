package commands

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

//go:embed all:templates
var templateFS embed.FS

// dotfiles are stored without their leading dot so that embed keeps them.
var dotfiles = map[string]string{
	"gitignore": ".gitignore",
}

// templateFile is one file of a workspace template. Embedded paths always
// use forward slashes; Dest is converted for the host when written.
type templateFile struct {
	Embedded string // path inside templateFS
	Dest     string // slash-separated path relative to the workspace
	Group    string // config, data or features
}

// workspaceTemplate lists the files of the named template in walk order.
func workspaceTemplate(name string) ([]templateFile, error) {
	root := path.Join("templates", name)
	if _, err := fs.Stat(templateFS, root); err != nil {
		return nil, fmt.Errorf("unknown workspace template %q", name)
	}

	var files []templateFile
	err := fs.WalkDir(templateFS, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		dest := destination(strings.TrimPrefix(p, root+"/"))
		files = append(files, templateFile{Embedded: p, Dest: dest, Group: groupOf(dest)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read template %s: %w", name, err)
	}
	return files, nil
}

func destination(rel string) string {
	dir, base := path.Split(rel)
	if renamed, ok := dotfiles[base]; ok {
		return path.Join(dir, renamed)
	}
	return rel
}

func groupOf(dest string) string {
	switch first, _, _ := strings.Cut(dest, "/"); first {
	case "data", "features":
		return first
	default:
		return "config"
	}
}

// writeTemplate materializes files under dir and returns the ones it wrote.
// Existing files are kept unless force is set.
func writeTemplate(files []templateFile, dir string, force bool) ([]templateFile, error) {
	var written []templateFile
	for _, f := range files {
		target := filepath.Join(dir, filepath.FromSlash(f.Dest))
		if !force {
			if _, err := os.Stat(target); err == nil {
				continue
			}
		}
		content, err := templateFS.ReadFile(f.Embedded)
		if err != nil {
			return written, fmt.Errorf("failed to read %s: %w", f.Embedded, err)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
			return written, fmt.Errorf("failed to create directory for %s: %w", f.Dest, err)
		}
		if err := os.WriteFile(target, content, 0o600); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", f.Dest, err)
		}
		written = append(written, f)
	}
	return written, nil
}

// byGroup indexes destinations by group, keeping template order.
func byGroup(files []templateFile) map[string][]string {
	groups := make(map[string][]string)
	for _, f := range files {
		groups[f.Group] = append(groups[f.Group], f.Dest)
	}
	return groups
}
