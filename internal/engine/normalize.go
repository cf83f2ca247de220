package engine

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// tildeExpand expands a leading "~/" (or a bare "~") into the invoking
// user's home directory. fsnotifierd's roots always come from the single
// local parent process that spawned it (spec.md §6), never from a
// multi-user path string, so unlike a general-purpose tilde expander there
// is no "~<username>/" form to resolve against a different account's home
// directory — only the daemon's own invoking user is ever relevant.
func tildeExpand(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "unable to compute path to home directory")
	}

	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, path[2:]), nil
}

// Normalize normalizes a path, expanding home directory tildes, converting it
// to an absolute path, and cleaning the result.
func Normalize(path string) (string, error) {
	// Expand any leading tilde.
	path, err := tildeExpand(path)
	if err != nil {
		return "", errors.Wrap(err, "unable to perform tilde expansion")
	}

	// Convert to an absolute path. This will also invoke filepath.Clean.
	path, err = filepath.Abs(path)
	if err != nil {
		return "", errors.Wrap(err, "unable to compute absolute path")
	}

	// Success.
	return path, nil
}

// Realpath canonicalizes path the way the root registry requires (spec.md
// §4.3, §6): tilde-expand, make absolute, clean, and resolve any symbolic
// links. It is applied to every user-supplied root before the tree walker
// sees it, and is the only defense against symlink loops — nothing further
// is done to detect loops below the root, per spec.md §6.
func Realpath(path string) (string, error) {
	normalized, err := Normalize(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(normalized)
	if err != nil {
		return "", errors.Wrap(err, "unable to resolve symbolic links")
	}
	return resolved, nil
}
