package params_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/optable/apsi/pkg/params"
	"github.com/optable/apsi/test/fixtures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	p, err := params.Load([]byte(fixtures.ParamsJSON))
	require.NoError(t, err)

	assert.Equal(t, uint32(3), p.Table().HashFuncCount)
	assert.Equal(t, uint32(512), p.Table().TableSize)
	assert.Equal(t, uint32(92), p.Table().MaxItemsPerBin)
	assert.Equal(t, uint32(512), p.ItemsPerBundle())
	assert.Equal(t, uint32(1), p.BundleIdxCount())
	// defaults
	assert.Equal(t, params.LocationHashHighway, p.Table().LocationHash)
	assert.Equal(t, params.GroupRistretto255, p.OPRFGroup())
	assert.Equal(t, params.EncodingExact, p.ResultEncoding())
}

func TestLoadMultiBundle(t *testing.T) {
	p := fixtures.Load(t, fixtures.MultiBundleJSON)
	assert.Equal(t, uint32(128), p.ItemsPerBundle())
	assert.Equal(t, uint32(8), p.BundleIdxCount())
	assert.Equal(t, params.GroupGoRistretto, p.OPRFGroup())
}

func TestLoadBloom(t *testing.T) {
	p := fixtures.Load(t, fixtures.BloomJSON)
	assert.Equal(t, params.EncodingBloom, p.ResultEncoding())
	assert.Equal(t, 1e-9, p.FalsePositiveRate())
}

func TestFingerprint(t *testing.T) {
	p1 := fixtures.Params(t)
	// same document with a different layout
	compact := strings.Join(strings.Fields(fixtures.ParamsJSON), " ")
	p2, err := params.Load([]byte(compact))
	require.NoError(t, err)
	assert.Equal(t, p1.Fingerprint(), p2.Fingerprint())

	fp := p1.Fingerprint()
	assert.True(t, p2.Matches(fp[:]))

	p3 := fixtures.Load(t, fixtures.MultiBundleJSON)
	assert.NotEqual(t, p1.Fingerprint(), p3.Fingerprint())
	assert.False(t, p3.Matches(fp[:]))
	assert.False(t, p3.Matches(fp[:8]))
}

func TestImmutable(t *testing.T) {
	p := fixtures.Params(t)
	q := p.Query()
	q.QueryPowers[0] = 42
	assert.Equal(t, uint32(1), p.Query().QueryPowers[0])

	s := p.SEAL()
	s.CoeffModulusBits[0] = 1
	assert.Equal(t, 40, p.SEAL().CoeffModulusBits[0])
}

func TestInvalid(t *testing.T) {
	var tests = []struct {
		name string
		from string
		to   string
	}{
		{"noHashFunc", `"hash_func_count": 3`, `"hash_func_count": 0`},
		{"tooManyHashFunc", `"hash_func_count": 3`, `"hash_func_count": 9`},
		{"emptyTable", `"table_size": 512`, `"table_size": 0`},
		{"emptyBins", `"max_items_per_bin": 92`, `"max_items_per_bin": 0`},
		{"feltsPerItem", `"felts_per_item": 8`, `"felts_per_item": 1`},
		{"polyModulus", `"poly_modulus_degree": 4096`, `"poly_modulus_degree": 4000`},
		{"tableNotBundled", `"table_size": 512`, `"table_size": 500`},
		{"noPowerOne", `[ 1, 3,`, `[ 2, 3,`},
		{"plainModulus", `"plain_modulus": 40961`, `"plain_modulus": 0`},
		{"syntax", `"table_params": {`, `"table_params": [`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := strings.Replace(fixtures.ParamsJSON, tt.from, tt.to, 1)
			require.NotEqual(t, fixtures.ParamsJSON, doc, "replacement did not apply")
			_, err := params.Load([]byte(doc))
			assert.ErrorIs(t, err, params.ErrInvalidParams)
		})
	}
}

func TestInvalidExtensions(t *testing.T) {
	var tests = []struct {
		name string
		from string
		to   string
	}{
		{"locationHash", `"location_hash": "murmur3"`, `"location_hash": "md5"`},
		{"group", `"group": "go-ristretto"`, `"group": "p256"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := strings.Replace(fixtures.MultiBundleJSON, tt.from, tt.to, 1)
			_, err := params.Load([]byte(doc))
			assert.ErrorIs(t, err, params.ErrInvalidParams)
		})
	}

	doc := strings.Replace(fixtures.BloomJSON, `"false_positive_rate": 1e-9`, `"false_positive_rate": 2`, 1)
	_, err := params.Load([]byte(doc))
	assert.ErrorIs(t, err, params.ErrInvalidParams)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.json")
	require.NoError(t, os.WriteFile(path, []byte(fixtures.ParamsJSON), 0o600))

	p, err := params.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, fixtures.Params(t).Fingerprint(), p.Fingerprint())

	_, err = params.LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
