package version

import (
	"encoding/json"
	"fmt"
)

// ImageIdentity identifies the deployable image whose versions are tracked
type ImageIdentity struct {
	Repository string `json:"repository" validate:"required"`
	Tag        string `json:"tag" validate:"required"`
	// ContainerName and ProjectPath are informational hints from the caller
	ContainerName string `json:"containerName,omitempty"`
	ProjectPath   string `json:"projectPath,omitempty"`
}

// Key returns the canonical cache and lock key for the image
func (i ImageIdentity) Key() string {
	return ImageKey(i.Repository, i.Tag)
}

// ImageKey builds the canonical "repository:tag" key
func ImageKey(repository, tag string) string {
	return repository + ":" + tag
}

// SourceKind is the closed set of version sources
type SourceKind string

const (
	SourceRegistryTags    SourceKind = "registryTags"
	SourceRelease         SourceKind = "sourceRelease"
	SourceLocalRepository SourceKind = "localRepository"
	SourceCustomAPI       SourceKind = "customApi"
)

// Valid reports whether k is one of the known kinds
func (k SourceKind) Valid() bool {
	switch k {
	case SourceRegistryTags, SourceRelease, SourceLocalRepository, SourceCustomAPI:
		return true
	}
	return false
}

// priorityOrder decides which successful source is recommended
var priorityOrder = []SourceKind{
	SourceLocalRepository,
	SourceRelease,
	SourceRegistryTags,
	SourceCustomAPI,
}

// RegistryTagsConfig configures a registry tag listing (Docker Hub compatible)
type RegistryTagsConfig struct {
	Namespace         string `json:"namespace" validate:"required"`
	Repository        string `json:"repository" validate:"required"`
	IncludePrerelease bool   `json:"includePrerelease,omitempty"`
	TagRegex          string `json:"tagRegex,omitempty"`
	BaseURL           string `json:"baseUrl,omitempty" validate:"omitempty,url"`
	PageSize          int    `json:"pageSize,omitempty" validate:"omitempty,min=1,max=100"`
}

// ReleaseConfig configures a source-control release listing
type ReleaseConfig struct {
	Owner             string `json:"owner" validate:"required"`
	Repo              string `json:"repo" validate:"required"`
	IncludePrerelease bool   `json:"includePrerelease,omitempty"`
	Token             string `json:"token,omitempty"`
	BaseURL           string `json:"baseUrl,omitempty" validate:"omitempty,url"`
}

// LocalRepositoryConfig configures inspection of a local git checkout
type LocalRepositoryConfig struct {
	RepoPath    string `json:"repoPath" validate:"required"`
	Branch      string `json:"branch" validate:"required"`
	VersionFile string `json:"versionFile,omitempty"`
	Remote      string `json:"remote,omitempty"`
}

// HeaderPair is a single custom request header
type HeaderPair struct {
	Key   string `json:"key" validate:"required"`
	Value string `json:"value"`
}

// CustomAPIConfig configures an arbitrary JSON endpoint
type CustomAPIConfig struct {
	Endpoint         string          `json:"endpoint" validate:"required"`
	Method           string          `json:"method" validate:"required"`
	Headers          []HeaderPair    `json:"headers,omitempty" validate:"dive"`
	VersionField     string          `json:"versionField" validate:"required"`
	NotesField       string          `json:"notesField,omitempty"`
	PublishedAtField string          `json:"publishedAtField,omitempty"`
	Body             json.RawMessage `json:"body,omitempty"`
}

// SourceConfig is a tagged union: Kind selects which payload is set.
// On the wire it is {"kind": "...", "config": {...}}.
type SourceConfig struct {
	Kind            SourceKind
	RegistryTags    *RegistryTagsConfig
	Release         *ReleaseConfig
	LocalRepository *LocalRepositoryConfig
	CustomAPI       *CustomAPIConfig
}

// RegistryTagsSource wraps cfg as a SourceConfig
func RegistryTagsSource(cfg RegistryTagsConfig) SourceConfig {
	return SourceConfig{Kind: SourceRegistryTags, RegistryTags: &cfg}
}

// ReleaseSource wraps cfg as a SourceConfig
func ReleaseSource(cfg ReleaseConfig) SourceConfig {
	return SourceConfig{Kind: SourceRelease, Release: &cfg}
}

// LocalRepositorySource wraps cfg as a SourceConfig
func LocalRepositorySource(cfg LocalRepositoryConfig) SourceConfig {
	return SourceConfig{Kind: SourceLocalRepository, LocalRepository: &cfg}
}

// CustomAPISource wraps cfg as a SourceConfig
func CustomAPISource(cfg CustomAPIConfig) SourceConfig {
	return SourceConfig{Kind: SourceCustomAPI, CustomAPI: &cfg}
}

type sourceConfigWire struct {
	Kind   SourceKind      `json:"kind"`
	Config json.RawMessage `json:"config"`
}

// MarshalJSON encodes the union as {"kind", "config"}
func (s SourceConfig) MarshalJSON() ([]byte, error) {
	var payload interface{}
	switch s.Kind {
	case SourceRegistryTags:
		payload = s.RegistryTags
	case SourceRelease:
		payload = s.Release
	case SourceLocalRepository:
		payload = s.LocalRepository
	case SourceCustomAPI:
		payload = s.CustomAPI
	default:
		return nil, fmt.Errorf("unknown source kind %q", s.Kind)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(sourceConfigWire{Kind: s.Kind, Config: raw})
}

// UnmarshalJSON decodes {"kind", "config"} into the matching variant
func (s *SourceConfig) UnmarshalJSON(data []byte) error {
	var wire sourceConfigWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if len(wire.Config) == 0 {
		return fmt.Errorf("source %q is missing its config", wire.Kind)
	}

	out := SourceConfig{Kind: wire.Kind}
	var target interface{}
	switch wire.Kind {
	case SourceRegistryTags:
		out.RegistryTags = &RegistryTagsConfig{}
		target = out.RegistryTags
	case SourceRelease:
		out.Release = &ReleaseConfig{}
		target = out.Release
	case SourceLocalRepository:
		out.LocalRepository = &LocalRepositoryConfig{}
		target = out.LocalRepository
	case SourceCustomAPI:
		out.CustomAPI = &CustomAPIConfig{}
		target = out.CustomAPI
	default:
		return fmt.Errorf("unknown source kind %q", wire.Kind)
	}
	if err := json.Unmarshal(wire.Config, target); err != nil {
		return fmt.Errorf("decode %s config: %w", wire.Kind, err)
	}

	*s = out
	return nil
}

// Candidate is one version offered by one source
type Candidate struct {
	Source       SourceKind `json:"source"`
	Version      string     `json:"version"`
	Digest       string     `json:"digest,omitempty"`
	ReleaseNotes string     `json:"releaseNotes,omitempty"`
	PublishedAt  string     `json:"publishedAt,omitempty"`
	RawReference string     `json:"rawReference,omitempty"`
}

// SourceCheckResult records the outcome of polling one source
type SourceCheckResult struct {
	Source       SourceKind `json:"source"`
	OK           bool       `json:"ok"`
	ErrorCode    Code       `json:"errorCode,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	Latest       *Candidate `json:"latest,omitempty"`
	ElapsedMs    int64      `json:"elapsedMs"`
}

// CheckRequest asks for the newest version of an image across sources
type CheckRequest struct {
	Image            ImageIdentity  `json:"image"`
	Sources          []SourceConfig `json:"sources" validate:"dive"`
	TimeoutMs        *int64         `json:"timeoutMs,omitempty" validate:"omitempty,min=1"`
	OverallTimeoutMs *int64         `json:"overallTimeoutMs,omitempty" validate:"omitempty,min=1"`
}

// CheckResponse is the aggregate of a version check
type CheckResponse struct {
	ImageKey       string              `json:"imageKey"`
	CurrentVersion string              `json:"currentVersion,omitempty"`
	HasUpdate      bool                `json:"hasUpdate"`
	Recommended    *Candidate          `json:"recommended,omitempty"`
	Results        []SourceCheckResult `json:"results"`
	CheckedAtMs    int64               `json:"checkedAtMs"`
}

// Clone returns a deep copy so cached responses are never shared with callers
func (r CheckResponse) Clone() CheckResponse {
	out := r
	if r.Recommended != nil {
		rec := *r.Recommended
		out.Recommended = &rec
	}
	if r.Results != nil {
		out.Results = make([]SourceCheckResult, len(r.Results))
		for i, res := range r.Results {
			if res.Latest != nil {
				latest := *res.Latest
				res.Latest = &latest
			}
			out.Results[i] = res
		}
	}
	return out
}
