package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/atinyakov/CargoDesk/internal/certgen"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWritesFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	require.NoError(t, run([]string{"-dir", dir, "-hosts", " localhost , ,10.0.0.1"}))

	for _, name := range []string{certgen.CACertFile, certgen.CAKeyFile, certgen.ServerCertFile, certgen.ServerKeyFile} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
}

func TestRunRequiresHosts(t *testing.T) {
	assert.Error(t, run([]string{"-dir", t.TempDir(), "-hosts", " , "}))
	assert.Error(t, run([]string{"-bogus"}))
}
