// Package choices loads recorded snippet choices from a YAML file.
package choices

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"go.yaml.in/yaml/v3"

	"github.com/CosmoTheDev/deltascan/internal/metadata"
	"github.com/CosmoTheDev/deltascan/models"
)

// Repository holds the snippet choices of one repository.
type Repository struct {
	URL            string                 `yaml:"url"`
	SnippetChoices []models.SnippetChoice `yaml:"snippet_choices"`
}

// File is the parsed choice file.
type File struct {
	Repositories []Repository `yaml:"repositories"`
}

// Load reads the choice file at path. An empty path or a missing file yields
// an empty File.
func Load(path string) (*File, error) {
	if path == "" {
		return &File{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &File{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading snippet choices %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing snippet choices %s: %w", path, err)
	}
	return f, nil
}

// Parse decodes and validates a choice file.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) validate() error {
	for _, repo := range f.Repositories {
		if repo.URL == "" {
			return errors.New("repository entry without url")
		}
		for i, ch := range repo.SnippetChoices {
			switch {
			case ch.Location.Path == "":
				return fmt.Errorf("%s: choice %d has no location path", repo.URL, i+1)
			case !ch.Reason.Valid():
				return fmt.Errorf("%s: choice %d has unknown reason %q", repo.URL, i+1, ch.Reason)
			case ch.Reason == models.ReasonOriginalFinding && ch.Purl == "":
				return fmt.Errorf("%s: choice %d is an ORIGINAL_FINDING without purl", repo.URL, i+1)
			case ch.Location.StartLine > ch.Location.EndLine:
				return fmt.Errorf("%s: choice %d has start line after end line", repo.URL, i+1)
			}
		}
	}
	return nil
}

// For returns the choices recorded for repoURL. URLs are compared without
// credentials.
func (f *File) For(repoURL string) []models.SnippetChoice {
	if f == nil {
		return nil
	}
	want := metadata.StripCredentials(repoURL)
	var out []models.SnippetChoice
	for _, repo := range f.Repositories {
		if metadata.StripCredentials(repo.URL) == want {
			out = append(out, repo.SnippetChoices...)
		}
	}
	return out
}
