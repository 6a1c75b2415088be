package kotori

import (
	"errors"
	"fmt"
	"io"
)

// ErrNotFound indicates the requested book, page, or entry does not exist.
var ErrNotFound = errors.New("not found")

// readAll drains rc fully, wrapping any read error.
func readAll(rc io.Reader) ([]byte, error) {
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	return data, nil
}
