//go:build !unix

package diskmanager

import (
	"github.com/spf13/afero"
)

func openMapped(path string) (Source, error) {
	return readAll(afero.NewOsFs(), path)
}
