package utils

import (
	"errors"
	"math"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingFs struct {
	afero.Fs
}

func (failingFs) Create(string) (afero.File, error) {
	return nil, errors.New("cannot create file")
}

func TestFs_WriteJSON(t *testing.T) {
	testCases := []struct {
		name          string
		memfs         Fs
		inputData     interface{}
		expectedError string
	}{
		{
			name:      "happy path",
			memfs:     NewFs(afero.NewMemMapFs()),
			inputData: map[string]int{"reconciled": 3},
		},
		{
			name:          "sad path: fs.AppFs.Create returns an error",
			memfs:         NewFs(failingFs{afero.NewMemMapFs()}),
			expectedError: "unable to open a file: cannot create file",
		},
		{
			name:          "sad path: bad json input data",
			memfs:         NewFs(afero.NewMemMapFs()),
			inputData:     math.NaN(),
			expectedError: "failed to marshal JSON: json: unsupported value: NaN",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.memfs.WriteJSON("report.json", tc.inputData)
			if tc.expectedError != "" {
				require.Error(t, err)
				assert.Equal(t, tc.expectedError, err.Error())
				return
			}
			require.NoError(t, err)

			b, err := afero.ReadFile(tc.memfs.AppFs, "report.json")
			require.NoError(t, err)
			assert.JSONEq(t, `{"reconciled": 3}`, string(b))
		})
	}
}

func TestFs_ReadYAML(t *testing.T) {
	appFs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(appFs, "config.yaml", []byte("name: cisco\nretry: 2\n"), 0o644))
	require.NoError(t, afero.WriteFile(appFs, "broken.yaml", []byte("name: [cisco\n"), 0o644))

	type doc struct {
		Name  string `yaml:"name"`
		Retry int    `yaml:"retry"`
	}

	t.Run("happy path", func(t *testing.T) {
		var got doc
		require.NoError(t, NewFs(appFs).ReadYAML("config.yaml", &got))
		assert.Equal(t, doc{Name: "cisco", Retry: 2}, got)
	})

	t.Run("missing file", func(t *testing.T) {
		var got doc
		err := NewFs(appFs).ReadYAML("missing.yaml", &got)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unable to read missing.yaml")
	})

	t.Run("broken yaml", func(t *testing.T) {
		var got doc
		err := NewFs(appFs).ReadYAML("broken.yaml", &got)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to unmarshal YAML")
	})
}
