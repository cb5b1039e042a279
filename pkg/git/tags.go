package git

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"github.com/henningd/pi-manager/internal/util"
)

// Tag is a published version marker in the working copy.
type Tag struct {
	Name     string
	Revision string
	When     time.Time
}

// Tags returns every tag known locally, newest first.
//
// Annotated tags are dated by their tagger, lightweight tags by their commit.
// Tags with identical dates are ordered by descending version.
func (r *Repository) Tags() ([]Tag, error) {
	repo, err := r.open()
	if err != nil {
		return nil, err
	}

	iter, err := repo.Tags()
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}

	var tags []Tag

	err = iter.ForEach(func(ref *plumbing.Reference) error {
		tag := Tag{Name: ref.Name().Short()}

		annotated, err := repo.TagObject(ref.Hash())

		switch {
		case err == nil:
			commit, err := annotated.Commit()
			if err != nil {
				// Tags of trees or blobs are not versions.
				return nil //nolint:nilerr
			}

			tag.Revision = commit.Hash.String()
			tag.When = annotated.Tagger.When
		case errors.Is(err, plumbing.ErrObjectNotFound):
			commit, err := repo.CommitObject(ref.Hash())
			if err != nil {
				return nil //nolint:nilerr
			}

			tag.Revision = commit.Hash.String()
			tag.When = commit.Committer.When
		default:
			return err
		}

		tags = append(tags, tag)

		return nil
	})
	if err != nil && !errors.Is(err, storer.ErrStop) {
		return nil, fmt.Errorf("failed to read tags: %w", err)
	}

	sort.SliceStable(tags, func(i, j int) bool {
		if !tags[i].When.Equal(tags[j].When) {
			return tags[i].When.After(tags[j].When)
		}

		return util.CompareVersions(tags[i].Name, tags[j].Name) > 0
	})

	return tags, nil
}

// LatestTag returns the newest tag name, or an empty string when none exist.
func (r *Repository) LatestTag() (string, error) {
	tags, err := r.Tags()
	if err != nil || len(tags) == 0 {
		return "", err
	}

	return tags[0].Name, nil
}

// DescribeCurrentRevision returns the name of a tag pointing exactly at HEAD,
// or an empty string when the checked out commit is untagged.
func (r *Repository) DescribeCurrentRevision() (string, error) {
	current, err := r.CurrentRevision()
	if err != nil {
		return "", err
	}

	tags, err := r.Tags()
	if err != nil {
		return "", err
	}

	for _, tag := range tags {
		if tag.Revision == current {
			return tag.Name, nil
		}
	}

	return "", nil
}
