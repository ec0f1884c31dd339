package main

import (
	"bufio"
	"fmt"
	"os"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/zenmigration/zenmigrate/internal/codec"
	"github.com/zenmigration/zenmigrate/internal/snapshot"
)

var hashCmd = &cobra.Command{
	Use:   "hash <snapshot.json> <eon|zend>",
	Short: "Print the checkpoint hash of a snapshot file",
	Long: `Print the cumulative hash the ledger must reach after loading the snapshot.
Entries are hashed in canonical (ascending key) order starting from the zero
hash. With --batch-size the expected hash after every batch is printed too.`,
	Args: cobra.ExactArgs(2),
	RunE: runHash,
}

var convertZendCmd = &cobra.Command{
	Use:   "convert-zend",
	Short: "Convert a zend balance dump into the ZEND snapshot",
	Long: `Convert a zend dump CSV of "address,satoshi" rows into the ZEND ledger
snapshot keyed by hash160. Addresses mapped to EON accounts are written to a
separate snapshot that setup-eon merges into the EON snapshot.`,
	Args: cobra.NoArgs,
	RunE: runConvertZend,
}

var setupEONCmd = &cobra.Command{
	Use:   "setup-eon",
	Short: "Build the EON snapshot from a state dump and the forger stakes",
	Args:  cobra.NoArgs,
	RunE:  runSetupEON,
}

var (
	hashBatchSize int

	zendDumpPath    string
	zendMappingPath string
	zendOutPath     string
	zendMappedOut   string

	eonDumpPath   string
	eonStakesPath string
	eonMappedPath string
	eonOutPath    string
)

func init() {
	hashCmd.Flags().IntVar(&hashBatchSize, "batch-size", 0, "Also print the expected hash after each batch of this size")

	convertZendCmd.Flags().StringVar(&zendDumpPath, "dump", "", "Zend dump CSV file")
	convertZendCmd.Flags().StringVar(&zendMappingPath, "mapping", "", "JSON object mapping zend addresses to EON accounts (optional)")
	convertZendCmd.Flags().StringVar(&zendOutPath, "out", "zend.json", "ZEND snapshot output file")
	convertZendCmd.Flags().StringVar(&zendMappedOut, "eon-out", "zend_mapped.json", "Output file for balances mapped to EON accounts")
	convertZendCmd.MarkFlagRequired("dump")

	setupEONCmd.Flags().StringVar(&eonDumpPath, "dump", "", "EON state dump JSON file")
	setupEONCmd.Flags().StringVar(&eonStakesPath, "stakes", "", "EON forger stakes JSON file")
	setupEONCmd.Flags().StringVar(&eonMappedPath, "mapped", "", "Zend balances mapped to EON accounts, as written by convert-zend (optional)")
	setupEONCmd.Flags().StringVar(&eonOutPath, "out", "eon.json", "EON snapshot output file")
	setupEONCmd.MarkFlagRequired("dump")
	setupEONCmd.MarkFlagRequired("stakes")

	rootCmd.AddCommand(hashCmd, convertZendCmd, setupEONCmd)
}

func runHash(cmd *cobra.Command, args []string) error {
	c, err := codec.ByName(args[1])
	if err != nil {
		return err
	}
	entries, err := snapshot.ReadFile(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if hashBatchSize > 0 {
		for i, b := range snapshot.Batches(c, entries, hashBatchSize) {
			fmt.Fprintf(out, "batch %d (%d entries): %s\n", i+1, len(b.Entries), b.Expected.Hex())
		}
	}
	fmt.Fprintf(out, "entries: %d\n", len(entries))
	fmt.Fprintf(out, "total:   %s\n", zen(snapshot.Total(entries)))
	fmt.Fprintf(out, "hash:    %s\n", snapshot.Hash(c, entries).Hex())
	return nil
}

func runConvertZend(cmd *cobra.Command, args []string) error {
	var mapping map[string]common.Address
	if zendMappingPath != "" {
		f, err := os.Open(zendMappingPath)
		if err != nil {
			return err
		}
		mapping, err = snapshot.ReadMapping(bufio.NewReader(f))
		f.Close()
		if err != nil {
			return fmt.Errorf("failed to read mapping %s: %w", zendMappingPath, err)
		}
	}

	f, err := os.Open(zendDumpPath)
	if err != nil {
		return err
	}
	defer f.Close()
	res, err := snapshot.ConvertZend(bufio.NewReader(f), mapping)
	if err != nil {
		return fmt.Errorf("failed to convert %s: %w", zendDumpPath, err)
	}

	if err := snapshot.WriteFile(zendOutPath, res.Zend); err != nil {
		return err
	}
	if len(mapping) > 0 {
		if err := snapshot.WriteFile(zendMappedOut, res.EONMapped); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Total from zend:      %s\n", zen(res.TotalFromZend))
	fmt.Fprintf(out, "To ZEND ledger:       %s (%d keys)\n", zen(res.ToZendLedger), len(res.Zend))
	fmt.Fprintf(out, "To EON ledger:        %s (%d accounts)\n", zen(res.ToEONLedger), len(res.EONMapped))
	fmt.Fprintf(out, "Not migrated:         %s\n", zen(res.NotMigrated))
	if len(res.UnusedMappings) > 0 {
		sort.Strings(res.UnusedMappings)
		fmt.Fprintf(out, "Unused mappings (%d):\n", len(res.UnusedMappings))
		for _, a := range res.UnusedMappings {
			fmt.Fprintf(out, "  %s\n", a)
		}
	}
	return nil
}

func runSetupEON(cmd *cobra.Command, args []string) error {
	f, err := os.Open(eonDumpPath)
	if err != nil {
		return err
	}
	accounts, err := snapshot.ReadEONDump(bufio.NewReader(f))
	f.Close()
	if err != nil {
		return fmt.Errorf("failed to read EON dump %s: %w", eonDumpPath, err)
	}

	f, err = os.Open(eonStakesPath)
	if err != nil {
		return err
	}
	stakes, err := snapshot.ReadAmounts(bufio.NewReader(f))
	f.Close()
	if err != nil {
		return fmt.Errorf("failed to read stakes %s: %w", eonStakesPath, err)
	}

	var mapped []codec.Entry
	if eonMappedPath != "" {
		if mapped, err = snapshot.ReadFile(eonMappedPath); err != nil {
			return err
		}
	}

	res, err := snapshot.MergeEON(accounts, stakes, mapped)
	if err != nil {
		return err
	}
	if err := snapshot.WriteFile(eonOutPath, res.Entries); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Total balance (EOA + contracts + zend): %s\n", zen(res.Total))
	fmt.Fprintf(out, "Total stakes:                           %s\n", zen(res.Stakes))
	fmt.Fprintf(out, "Total from zend:                        %s\n", zen(res.FromZend))
	fmt.Fprintf(out, "Migrated (EOA + EOA stakes + zend):     %s (%d accounts)\n", zen(res.Restored), len(res.Entries))
	fmt.Fprintf(out, "Not migrated (contracts + null):        %s\n", zen(res.Filtered))
	fmt.Fprintf(out, "Contracts not migrated: %d, largest:\n", len(res.Contracts))
	for _, e := range topN(res.Contracts, 20) {
		fmt.Fprintf(out, "  %s %s\n", e.Key.Address().Hex(), zen(e.Amount))
	}
	return nil
}

func topN(entries []codec.Entry, n int) []codec.Entry {
	if len(entries) > n {
		return entries[:n]
	}
	return entries
}
