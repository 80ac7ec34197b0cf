package params

import (
	"errors"
	"fmt"
	"os"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

const (
	// LocationHashMurmur3 selects murmur3 as the table location hash
	LocationHashMurmur3 = "murmur3"
	// LocationHashMetro selects metrohash as the table location hash
	LocationHashMetro = "metro"
	// LocationHashHighway selects highwayhash as the table location hash
	LocationHashHighway = "highway"

	// GroupRistretto255 selects github.com/gtank/ristretto255 for the OPRF
	GroupRistretto255 = "ristretto255"
	// GroupGoRistretto selects github.com/bwesterb/go-ristretto for the OPRF
	GroupGoRistretto = "go-ristretto"

	// EncodingExact streams every tag and sealed label of a bin bundle
	EncodingExact = "exact"
	// EncodingBloom streams a bloomfilter of tags per bin bundle
	EncodingBloom = "bloom"

	// FingerprintLen is the byte length of a parameter set fingerprint
	FingerprintLen = 32

	defaultFalsePositiveRate = 1e-9
	fingerprintContext       = "github.com/optable/apsi 2024 params fingerprint"
)

// ErrInvalidParams is wrapped by every validation failure
var ErrInvalidParams = errors.New("invalid PSI parameters")

// TableParams describes the hash table both parties index hashed items in
type TableParams struct {
	HashFuncCount  uint32 `yaml:"hash_func_count"`
	TableSize      uint32 `yaml:"table_size"`
	MaxItemsPerBin uint32 `yaml:"max_items_per_bin"`
	LocationHash   string `yaml:"location_hash,omitempty"`
}

// ItemParams describes how an item is split in field elements
type ItemParams struct {
	FeltsPerItem uint32 `yaml:"felts_per_item"`
}

// QueryParams describes the powers the receiver would encrypt
type QueryParams struct {
	PSLowDegree uint32   `yaml:"ps_low_degree"`
	QueryPowers []uint32 `yaml:"query_powers,flow"`
}

// SEALParams describes the batching layout of the encryption scheme
type SEALParams struct {
	PlainModulus      uint64 `yaml:"plain_modulus,omitempty"`
	PlainModulusBits  uint32 `yaml:"plain_modulus_bits,omitempty"`
	PolyModulusDegree uint32 `yaml:"poly_modulus_degree"`
	CoeffModulusBits  []int  `yaml:"coeff_modulus_bits,flow"`
}

// OPRFParams selects the prime order group the OPRF runs in
type OPRFParams struct {
	Group string `yaml:"group,omitempty"`
}

// ResultParams selects how result parts are encoded
type ResultParams struct {
	Encoding          string  `yaml:"encoding,omitempty"`
	FalsePositiveRate float64 `yaml:"false_positive_rate,omitempty"`
}

// document is the textual layout of a parameter set
type document struct {
	TableParams  TableParams  `yaml:"table_params"`
	ItemParams   ItemParams   `yaml:"item_params"`
	QueryParams  QueryParams  `yaml:"query_params"`
	SEALParams   SEALParams   `yaml:"seal_params"`
	OPRFParams   OPRFParams   `yaml:"oprf_params,omitempty"`
	ResultParams ResultParams `yaml:"result_params,omitempty"`
}

// PSIParams is the immutable configuration both parties agree on
// before any exchange.
type PSIParams struct {
	doc            document
	itemsPerBundle uint32
	bundleIdxCount uint32
	fingerprint    [FingerprintLen]byte
}

// Load parses a textual parameter document. The document is JSON, as
// in the usual parameter files; YAML is also accepted.
func Load(text []byte) (*PSIParams, error) {
	var doc document
	if err := yaml.Unmarshal(text, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}

	return newPSIParams(doc)
}

// LoadFile reads and parses the parameter document at path
func LoadFile(path string) (*PSIParams, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return Load(b)
}

func newPSIParams(doc document) (*PSIParams, error) {
	applyDefaults(&doc)
	if err := validate(doc); err != nil {
		return nil, err
	}

	p := &PSIParams{doc: doc}
	p.itemsPerBundle = doc.SEALParams.PolyModulusDegree / doc.ItemParams.FeltsPerItem
	p.bundleIdxCount = doc.TableParams.TableSize / p.itemsPerBundle

	// the canonical encoding is stable across whitespace
	// and key ordering of the source document
	canonical, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	h := blake3.NewDeriveKey(fingerprintContext)
	h.Write(canonical)
	copy(p.fingerprint[:], h.Sum(nil))

	return p, nil
}

func applyDefaults(doc *document) {
	if doc.TableParams.LocationHash == "" {
		doc.TableParams.LocationHash = LocationHashHighway
	}
	if doc.OPRFParams.Group == "" {
		doc.OPRFParams.Group = GroupRistretto255
	}
	if doc.ResultParams.Encoding == "" {
		doc.ResultParams.Encoding = EncodingExact
	}
	if doc.ResultParams.Encoding == EncodingBloom && doc.ResultParams.FalsePositiveRate == 0 {
		doc.ResultParams.FalsePositiveRate = defaultFalsePositiveRate
	}
}

func validate(doc document) error {
	tp, ip, sp := doc.TableParams, doc.ItemParams, doc.SEALParams

	switch {
	case tp.HashFuncCount < 1 || tp.HashFuncCount > 8:
		return fmt.Errorf("%w: hash_func_count must be in [1, 8], got %d", ErrInvalidParams, tp.HashFuncCount)
	case tp.TableSize == 0:
		return fmt.Errorf("%w: table_size must be positive", ErrInvalidParams)
	case tp.MaxItemsPerBin == 0:
		return fmt.Errorf("%w: max_items_per_bin must be positive", ErrInvalidParams)
	case ip.FeltsPerItem < 2 || ip.FeltsPerItem > 32:
		return fmt.Errorf("%w: felts_per_item must be in [2, 32], got %d", ErrInvalidParams, ip.FeltsPerItem)
	case sp.PolyModulusDegree < ip.FeltsPerItem || sp.PolyModulusDegree&(sp.PolyModulusDegree-1) != 0:
		return fmt.Errorf("%w: poly_modulus_degree must be a power of two of at least felts_per_item, got %d", ErrInvalidParams, sp.PolyModulusDegree)
	case sp.PlainModulus == 0 && sp.PlainModulusBits == 0:
		return fmt.Errorf("%w: one of plain_modulus or plain_modulus_bits is required", ErrInvalidParams)
	}

	itemsPerBundle := sp.PolyModulusDegree / ip.FeltsPerItem
	if tp.TableSize%itemsPerBundle != 0 {
		return fmt.Errorf("%w: table_size (%d) must be a multiple of the items per bundle (%d)", ErrInvalidParams, tp.TableSize, itemsPerBundle)
	}

	if !containsOne(doc.QueryParams.QueryPowers) {
		return fmt.Errorf("%w: query_powers must contain 1", ErrInvalidParams)
	}

	switch tp.LocationHash {
	case LocationHashMurmur3, LocationHashMetro, LocationHashHighway:
	default:
		return fmt.Errorf("%w: unknown location_hash %q", ErrInvalidParams, tp.LocationHash)
	}

	switch doc.OPRFParams.Group {
	case GroupRistretto255, GroupGoRistretto:
	default:
		return fmt.Errorf("%w: unknown OPRF group %q", ErrInvalidParams, doc.OPRFParams.Group)
	}

	switch doc.ResultParams.Encoding {
	case EncodingExact:
	case EncodingBloom:
		if fp := doc.ResultParams.FalsePositiveRate; fp <= 0 || fp >= 1 {
			return fmt.Errorf("%w: false_positive_rate must be in (0, 1), got %g", ErrInvalidParams, fp)
		}
	default:
		return fmt.Errorf("%w: unknown result encoding %q", ErrInvalidParams, doc.ResultParams.Encoding)
	}

	return nil
}

func containsOne(powers []uint32) bool {
	for _, p := range powers {
		if p == 1 {
			return true
		}
	}
	return false
}

// Table returns a copy of the table parameters
func (p *PSIParams) Table() TableParams {
	return p.doc.TableParams
}

// Item returns a copy of the item parameters
func (p *PSIParams) Item() ItemParams {
	return p.doc.ItemParams
}

// Query returns a copy of the query parameters
func (p *PSIParams) Query() QueryParams {
	q := p.doc.QueryParams
	q.QueryPowers = append([]uint32(nil), q.QueryPowers...)
	return q
}

// SEAL returns a copy of the encryption scheme parameters
func (p *PSIParams) SEAL() SEALParams {
	s := p.doc.SEALParams
	s.CoeffModulusBits = append([]int(nil), s.CoeffModulusBits...)
	return s
}

// OPRFGroup is the name of the group the OPRF runs in
func (p *PSIParams) OPRFGroup() string {
	return p.doc.OPRFParams.Group
}

// ResultEncoding is the encoding used for result parts
func (p *PSIParams) ResultEncoding() string {
	return p.doc.ResultParams.Encoding
}

// FalsePositiveRate of the bloom result encoding
func (p *PSIParams) FalsePositiveRate() float64 {
	return p.doc.ResultParams.FalsePositiveRate
}

// ItemsPerBundle is the number of table locations covered by one bundle
func (p *PSIParams) ItemsPerBundle() uint32 {
	return p.itemsPerBundle
}

// BundleIdxCount is the number of bundles the table is partitioned in
func (p *PSIParams) BundleIdxCount() uint32 {
	return p.bundleIdxCount
}

// Fingerprint identifies the parameter set on the wire
func (p *PSIParams) Fingerprint() [FingerprintLen]byte {
	return p.fingerprint
}

// Matches reports whether fingerprint identifies this parameter set
func (p *PSIParams) Matches(fingerprint []byte) bool {
	return len(fingerprint) == FingerprintLen && string(fingerprint) == string(p.fingerprint[:])
}

// String returns the canonical textual form of the parameters
func (p *PSIParams) String() string {
	b, err := yaml.Marshal(p.doc)
	if err != nil {
		return err.Error()
	}
	return string(b)
}
