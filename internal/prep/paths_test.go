package prep

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequest_Confine(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()

	got, err := Request{
		ExposurePath: "loc.csv",
		KeysPath:     filepath.Join(in, "sub", "keys.csv"),
		TargetDir:    "run1/./input",
	}.Confine(in, out)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(in, "loc.csv"), got.ExposurePath)
	assert.Equal(t, filepath.Join(in, "sub", "keys.csv"), got.KeysPath)
	assert.Empty(t, got.ProfilePath)
	assert.Equal(t, filepath.Join(out, "run1", "input"), got.TargetDir)
}

func TestRequest_ConfineRejectsEscapes(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()

	tests := []struct {
		name string
		req  Request
	}{
		{"exposure traversal", Request{ExposurePath: "../../etc/passwd", KeysPath: "keys.csv"}},
		{"keys absolute outside", Request{ExposurePath: "loc.csv", KeysPath: "/etc/passwd"}},
		{"profile traversal", Request{ExposurePath: "loc.csv", KeysPath: "keys.csv", ProfilePath: "a/../../p.yaml"}},
		{"target traversal", Request{ExposurePath: "loc.csv", KeysPath: "keys.csv", TargetDir: "../elsewhere"}},
		{"target in input root", Request{ExposurePath: "loc.csv", KeysPath: "keys.csv", TargetDir: in}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.req.Confine(in, out)
			var reqErr *RequestError
			require.True(t, errors.As(err, &reqErr), "got %v", err)
			assert.Equal(t, "REQ001", MapError(err).Code)
		})
	}
}

func TestRequest_ConfineNameStartingWithDots(t *testing.T) {
	in := t.TempDir()

	got, err := Request{ExposurePath: "..loc.csv", KeysPath: "keys.csv"}.Confine(in, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(in, "..loc.csv"), got.ExposurePath)
}

func TestRequest_ConfineEmptyRoots(t *testing.T) {
	req := Request{ExposurePath: "../loc.csv", KeysPath: "/abs/keys.csv", TargetDir: "../out"}

	got, err := req.Confine("", "")
	require.NoError(t, err)
	assert.Equal(t, req, got)
}
