package step

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gabriel-vasile/mimetype"
	"github.com/otiai10/copy"

	"github.com/runloom/runloom/engine/artifact"
	"github.com/runloom/runloom/engine/core"
	"github.com/runloom/runloom/engine/run"
)

// artifactsDir is where a run's collected artifacts live, relative to the
// project root.
func artifactsDir(rc *run.Context) string {
	return filepath.Join(rc.ProjectRoot, ".runloom", "runs", string(rc.RunID()), "artifacts")
}

// runArtifact collects one or more files into the run's artifact directory.
// Every collected file becomes one artifact row and one artifact_created
// event on the live channel.
func (e *Executor) runArtifact(ctx context.Context, rc *run.Context, s *Step, c ArtifactConfig) (json.RawMessage, error) {
	if c.Name == "" {
		return nil, fmt.Errorf("artifact step requires a name")
	}
	dir := artifactsDir(rc)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact directory: %w", err)
	}
	var (
		paths []string
		err   error
	)
	switch c.Kind {
	case ArtifactText:
		paths, err = collectText(dir, c)
	case ArtifactFile, ArtifactImage:
		paths, err = collectFile(rc, dir, c)
	case ArtifactDirectory:
		paths, err = collectDirectory(rc, dir, c)
	default:
		return nil, fmt.Errorf("unknown artifact kind %q", c.Kind)
	}
	if err != nil {
		return nil, err
	}
	res := &ArtifactResult{Files: make([]ArtifactFileInfo, 0, len(paths))}
	for _, path := range paths {
		info, err := e.recordArtifact(ctx, rc, s, c, path)
		if err != nil {
			return nil, err
		}
		res.Files = append(res.Files, *info)
	}
	res.Count = len(res.Files)
	res.Success = true
	return core.RawJSON(res)
}

func collectText(dir string, c ArtifactConfig) ([]string, error) {
	name := c.Name
	if filepath.Ext(name) == "" {
		name += ".txt"
	}
	dest := filepath.Join(dir, filepath.Base(name))
	if err := os.WriteFile(dest, []byte(c.Content), 0o644); err != nil {
		return nil, fmt.Errorf("writing text artifact: %w", err)
	}
	return []string{dest}, nil
}

func collectFile(rc *run.Context, dir string, c ArtifactConfig) ([]string, error) {
	if c.Source == "" {
		return nil, fmt.Errorf("%s artifact requires a source path", c.Kind)
	}
	src := c.Source
	if !filepath.IsAbs(src) {
		src = filepath.Join(rc.ProjectRoot, src)
	}
	if _, err := os.Stat(src); err != nil {
		return nil, fmt.Errorf("artifact source: %w", err)
	}
	dest := filepath.Join(dir, filepath.Base(src))
	if err := copy.Copy(src, dest); err != nil {
		return nil, fmt.Errorf("copying artifact: %w", err)
	}
	return []string{dest}, nil
}

// collectDirectory copies every file under Source matching Pattern,
// preserving relative paths under a directory named after the artifact.
func collectDirectory(rc *run.Context, dir string, c ArtifactConfig) ([]string, error) {
	if c.Source == "" {
		return nil, fmt.Errorf("directory artifact requires a source path")
	}
	src := c.Source
	if !filepath.IsAbs(src) {
		src = filepath.Join(rc.ProjectRoot, src)
	}
	pattern := c.Pattern
	if pattern == "" {
		pattern = "**/*"
	}
	matches, err := doublestar.FilepathGlob(filepath.Join(src, pattern))
	if err != nil {
		return nil, fmt.Errorf("globbing %q: %w", pattern, err)
	}
	destRoot := filepath.Join(dir, core.Slugify(c.Name))
	var paths []string
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil || info.IsDir() {
			continue
		}
		rel, err := filepath.Rel(src, match)
		if err != nil {
			return nil, err
		}
		dest := filepath.Join(destRoot, rel)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return nil, err
		}
		if err := copy.Copy(match, dest); err != nil {
			return nil, fmt.Errorf("copying %s: %w", rel, err)
		}
		paths = append(paths, dest)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("directory artifact matched no files under %s", src)
	}
	return paths, nil
}

func (e *Executor) recordArtifact(ctx context.Context, rc *run.Context, s *Step, c ArtifactConfig, path string) (*ArtifactFileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	mime := "application/octet-stream"
	if detected, derr := mimetype.DetectFile(path); derr == nil {
		mime = detected.String()
	}
	fileType := artifact.TypeForMime(mime)
	if c.Kind == ArtifactImage {
		fileType = artifact.FileTypeImage
	}
	// Rows reference artifacts relative to the project root so the project
	// directory can move without breaking the history.
	rel, err := filepath.Rel(rc.ProjectRoot, path)
	if err != nil {
		return nil, err
	}
	a := &artifact.Artifact{
		ID:        core.MustNewID(),
		RunID:     rc.RunID(),
		StepID:    s.ID,
		Name:      filepath.Base(path),
		FilePath:  rel,
		FileType:  fileType,
		MimeType:  mime,
		Size:      info.Size(),
		Phase:     rc.Phase(),
		CreatedAt: time.Now().UTC(),
	}
	if err := rc.Events.EmitArtifact(ctx, a); err != nil {
		return nil, err
	}
	return &ArtifactFileInfo{
		Name:     a.Name,
		Path:     a.FilePath,
		MimeType: a.MimeType,
		Size:     a.Size,
	}, nil
}
