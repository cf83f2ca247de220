package engine

import "github.com/pkg/errors"

// ErrIgnore indicates that a path is structurally unusable: it matched an
// ignore rule, or it could not be opened or stat'ed (permission denied, a
// path that vanished, or any other open failure). The walker treats this as
// non-fatal and simply skips the path, continuing with siblings.
var ErrIgnore = errors.New("engine: path ignored")
