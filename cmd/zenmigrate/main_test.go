package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenmigration/zenmigrate/config"
	"github.com/zenmigration/zenmigrate/internal/claim"
	"github.com/zenmigration/zenmigrate/internal/codec"
	"github.com/zenmigration/zenmigrate/internal/snapshot"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestMigrationParams(t *testing.T) {
	c := config.Default()
	_, _, err := migrationParams(c)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	c.Admin = common.HexToAddress("0xad")
	c.DAO = common.HexToAddress("0xda")
	c.Foundation = common.HexToAddress("0xf0")
	c.Network = "testnet"
	c.DAOSchedule.Intervals = 12
	p, operator, err := migrationParams(c)
	require.NoError(t, err)
	assert.Equal(t, c.Admin, operator)
	assert.Equal(t, c.Admin, p.Admin)
	assert.Equal(t, uint64(12), p.DAOSchedule.Intervals)
	assert.Equal(t, claim.Testnet, p.Network)

	c.Network = "regtest"
	_, _, err = migrationParams(c)
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	for name, want := range map[string]slog.Level{
		"trace": log.LevelTrace,
		"debug": log.LevelDebug,
		"info":  log.LevelInfo,
		"WARN":  log.LevelWarn,
		"error": log.LevelError,
		"crit":  log.LevelCrit,
	} {
		lvl, err := parseLevel(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, lvl, name)
	}
	_, err := parseLevel("loud")
	assert.Error(t, err)
}

func TestZen(t *testing.T) {
	assert.Equal(t, "1.5 ZEN", zen(uint256.NewInt(1_500_000_000_000_000_000)))
	assert.Equal(t, "0 ZEN", zen(nil))
}

func TestHashCommand(t *testing.T) {
	entries := []codec.Entry{
		{Key: codec.KeyFromAddress(common.HexToAddress("0x01")), Amount: uint256.NewInt(10)},
		{Key: codec.KeyFromAddress(common.HexToAddress("0x02")), Amount: uint256.NewInt(20)},
		{Key: codec.KeyFromAddress(common.HexToAddress("0x03")), Amount: uint256.NewInt(30)},
	}
	path := filepath.Join(t.TempDir(), "eon.json")
	require.NoError(t, snapshot.WriteFile(path, entries))

	out := execute(t, "hash", path, "eon", "--batch-size", "2")
	assert.Contains(t, out, "entries: 3")
	assert.Contains(t, out, "batch 2 (1 entries)")
	assert.Contains(t, out, snapshot.Hash(codec.EON, entries).Hex())
}

func TestConvertAndSetupCommands(t *testing.T) {
	dir := t.TempDir()
	zenAddr := claim.Mainnet.EncodeAddress(claim.Mainnet.P2PKH, claim.Hash160([]byte("holder")))
	mapped := claim.Mainnet.EncodeAddress(claim.Mainnet.P2PKH, claim.Hash160([]byte("mapped")))
	eonAccount := common.HexToAddress("0x00000000000000000000000000000000000000e1")

	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
		return p
	}
	dump := write("dump.csv", zenAddr+",5\n"+mapped+",7\n")
	mapping := write("mapping.json", `{"`+mapped+`": "`+eonAccount.Hex()+`"}`)
	zendOut := filepath.Join(dir, "zend.json")
	mappedOut := filepath.Join(dir, "mapped.json")

	out := execute(t, "convert-zend", "--dump", dump, "--mapping", mapping, "--out", zendOut, "--eon-out", mappedOut)
	assert.Contains(t, out, "To ZEND ledger")

	zend, err := snapshot.ReadFile(zendOut)
	require.NoError(t, err)
	require.Len(t, zend, 1)
	assert.Equal(t, uint256.NewInt(5 * 10_000_000_000), zend[0].Amount)

	eonDump := write("dump.json", `{"accounts": {"0x00000000000000000000000000000000000000e2": {"balance": "100"}}}`)
	stakes := write("stakes.json", `{}`)
	eonOut := filepath.Join(dir, "eon.json")
	execute(t, "setup-eon", "--dump", eonDump, "--stakes", stakes, "--mapped", mappedOut, "--out", eonOut)

	eon, err := snapshot.ReadFile(eonOut)
	require.NoError(t, err)
	require.Len(t, eon, 2)
	assert.Equal(t, uint256.NewInt(7*10_000_000_000 + 100), snapshot.Total(eon))
}
