package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// DefaultProfile is the profile used when none is configured.
const DefaultProfile = "default"

// Record is the persisted credential pair of one profile.
type Record struct {
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// document is the on-disk layout; several profiles share one file.
type document struct {
	Profiles map[string]*Record `json:"profiles"`
}

// File is a Store backed by a JSON file. Writes go through a lock file and an
// atomic rename, so concurrent processes never observe a half-written file
// and never drop another profile's update.
type File struct {
	path    string
	profile string
}

// NewFile returns a File store for profile inside the document at path.
func NewFile(path, profile string) *File {
	if profile == "" {
		profile = DefaultProfile
	}
	return &File{path: path, profile: profile}
}

// Path returns the backing file path.
func (f *File) Path() string { return f.path }

func (f *File) Get(_ context.Context, kind Kind) (string, error) {
	if err := kind.validate(); err != nil {
		return "", err
	}

	doc, err := f.load()
	if err != nil {
		return "", err
	}
	rec, ok := doc.Profiles[f.profile]
	if !ok {
		return "", nil
	}
	if kind == Access {
		return rec.AccessToken, nil
	}
	return rec.RefreshToken, nil
}

func (f *File) Set(_ context.Context, kind Kind, value string) error {
	if err := kind.validate(); err != nil {
		return err
	}

	return f.update(func(doc *document) {
		rec, ok := doc.Profiles[f.profile]
		if !ok {
			rec = &Record{}
			doc.Profiles[f.profile] = rec
		}
		if kind == Access {
			rec.AccessToken = value
		} else {
			rec.RefreshToken = value
		}
		rec.UpdatedAt = time.Now().UTC()
	})
}

func (f *File) Clear(_ context.Context) error {
	return f.update(func(doc *document) {
		delete(doc.Profiles, f.profile)
	})
}

// load reads the document. A missing file is an empty document.
func (f *File) load() (*document, error) {
	doc := &document{Profiles: make(map[string]*Record)}

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential file: %w", err)
	}

	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("failed to parse credential file: %w", err)
	}
	if doc.Profiles == nil {
		doc.Profiles = make(map[string]*Record)
	}
	return doc, nil
}

// update applies fn to the document under the file lock and writes it back.
func (f *File) update(fn func(doc *document)) (err error) {
	lock, err := acquireFileLock(f.path)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() {
		if releaseErr := lock.release(); releaseErr != nil && err == nil {
			err = fmt.Errorf("failed to release lock: %w", releaseErr)
		}
	}()

	doc, loadErr := f.load()
	if loadErr != nil {
		// A corrupt file is replaced rather than blocking every future write.
		doc = &document{Profiles: make(map[string]*Record)}
	}
	fn(doc)

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	tempFile := f.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tempFile, f.path); err != nil {
		if removeErr := os.Remove(tempFile); removeErr != nil {
			return fmt.Errorf(
				"failed to rename temp file: %v; additionally failed to remove temp file: %w",
				err,
				removeErr,
			)
		}
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

var _ Store = (*File)(nil)
