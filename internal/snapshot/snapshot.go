// Package snapshot reads and writes the balance snapshots loaded into the
// ledgers, and prepares them from the raw legacy chain dumps.
//
// A snapshot file is a JSON object mapping lowercase 0x-prefixed keys to
// integer amounts in wei. Its canonical order, the one the checkpoint hash
// is computed over, is ascending by key.
package snapshot

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/zenmigration/zenmigrate/internal/codec"
)

var (
	ErrDuplicateKey  = errors.New("duplicate key")
	ErrInvalidAmount = errors.New("invalid amount")
)

// ReadJSON parses a snapshot object and returns its entries in canonical
// order. Keys appearing twice are rejected.
func ReadJSON(r io.Reader) ([]codec.Entry, error) {
	amounts := make(map[codec.Key]*uint256.Int)
	err := decodeObject(r, func(name string, dec *json.Decoder) error {
		key, err := codec.ParseKey(name)
		if err != nil {
			return err
		}
		if _, dup := amounts[key]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateKey, key)
		}
		amount, err := decodeAmount(dec)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		amounts[key] = amount
		return nil
	})
	if err != nil {
		return nil, err
	}
	entries := make([]codec.Entry, 0, len(amounts))
	for k, v := range amounts {
		entries = append(entries, codec.Entry{Key: k, Amount: v})
	}
	Sort(entries)
	return entries, nil
}

// ReadFile reads a snapshot file.
func ReadFile(path string) ([]codec.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	entries, err := ReadJSON(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", path, err)
	}
	return entries, nil
}

// WriteJSON writes entries as a snapshot object in the given order.
func WriteJSON(w io.Writer, entries []codec.Entry) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("{")
	for i, e := range entries {
		if i > 0 {
			bw.WriteString(",")
		}
		fmt.Fprintf(bw, "\n    %q: %s", e.Key.Hex(), e.Amount.Dec())
	}
	if len(entries) > 0 {
		bw.WriteString("\n")
	}
	bw.WriteString("}\n")
	return bw.Flush()
}

// WriteFile writes entries to path in canonical order.
func WriteFile(path string, entries []codec.Entry) error {
	sorted := append([]codec.Entry(nil), entries...)
	Sort(sorted)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteJSON(f, sorted); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Sort puts entries in canonical order.
func Sort(entries []codec.Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return strings.Compare(entries[i].Key.Hex(), entries[j].Key.Hex()) < 0
	})
}

// Hash returns the cumulative hash of entries from the zero hash.
func Hash(c codec.AddressCodec, entries []codec.Entry) common.Hash {
	return codec.CumulativeHash(c, common.Hash{}, entries)
}

// Total returns the sum of all amounts.
func Total(entries []codec.Entry) *uint256.Int {
	total := new(uint256.Int)
	for _, e := range entries {
		total.Add(total, e.Amount)
	}
	return total
}

// Batch is a slice of entries with the running hash expected after it.
type Batch struct {
	Entries  []codec.Entry
	Expected common.Hash
}

// Batches splits entries into consecutive batches of at most size
// entries, each carrying the running hash the ledger must reach.
func Batches(c codec.AddressCodec, entries []codec.Entry, size int) []Batch {
	if size <= 0 {
		size = len(entries)
	}
	var out []Batch
	running := common.Hash{}
	for start := 0; start < len(entries); start += size {
		end := min(start+size, len(entries))
		running = codec.CumulativeHash(c, running, entries[start:end])
		out = append(out, Batch{Entries: entries[start:end], Expected: running})
	}
	return out
}

// decodeObject walks the members of a JSON object, handing each value to fn.
func decodeObject(r io.Reader, fn func(name string, dec *json.Decoder) error) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("expected JSON object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("expected object key, got %v", tok)
		}
		if err := fn(name, dec); err != nil {
			return err
		}
	}
	_, err = dec.Token()
	return err
}

// decodeAmount reads a non-negative integer given as a JSON number or a
// decimal string.
func decodeAmount(dec *json.Decoder) (*uint256.Int, error) {
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return ParseAmount(raw)
}

// ParseAmount converts a json.Number or decimal string to an amount.
func ParseAmount(raw any) (*uint256.Int, error) {
	var s string
	switch v := raw.(type) {
	case json.Number:
		s = v.String()
	case string:
		s = v
	default:
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, raw)
	}
	amount, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, s, err)
	}
	return amount, nil
}
