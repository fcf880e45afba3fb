package models

// PackageTarget is a single VCS package handed to the scanner by the host
// pipeline.
type PackageTarget struct {
	// ID identifies the package in the host pipeline (e.g. "Maven:org.example:app:1.0").
	ID string `json:"id"               yaml:"id"               mapstructure:"id"`
	// VcsURL is the repository URL; it may carry credentials.
	VcsURL string `json:"vcs_url"          yaml:"vcs_url"          mapstructure:"vcs_url"`
	// Revision is the git revision to scan (commit, tag or branch).
	Revision string `json:"revision"         yaml:"revision"         mapstructure:"revision"`
	// ProjectRevision labels the lineage (usually the branch) the revision belongs to.
	ProjectRevision string `json:"project_revision" yaml:"project_revision" mapstructure:"project_revision"`
}
