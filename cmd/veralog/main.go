package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/ssh/terminal"

	"github.com/veralog-io/veralog-go/pkg/client"
	"github.com/veralog-io/veralog-go/pkg/ledger"
	"github.com/veralog-io/veralog-go/pkg/schema"
	"github.com/veralog-io/veralog-go/pkg/state"
	"github.com/veralog-io/veralog-go/pkg/uri"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile         string
	serverAddr      string
	database        string
	stateDir        string
	verificationKey string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "veralog",
	Short: "Veralog tamper-evident ledger CLI",
	Long: `veralog is the command-line client for a Veralog ledger server.

Every read and write goes through cryptographic verification: entry
digests are recomputed locally, inclusion and consistency proofs are
checked, and the verified state is pinned in a trust anchor store under
the state directory. A server that rewrites history cannot get past
these checks unnoticed.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".veralog"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("veralog")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverAddr == "" {
			serverAddr = viper.GetString("server")
		}
		if serverAddr == "" {
			serverAddr = "localhost:" + uri.DefaultPort
		}
		if database == "" {
			database = viper.GetString("database")
		}
		if database == "" {
			database = uri.DefaultDatabase
		}
		if stateDir == "" {
			stateDir = viper.GetString("state_dir")
		}
		if stateDir == "" {
			home, _ := os.UserHomeDir()
			stateDir = filepath.Join(home, ".veralog")
		}
		if verificationKey == "" {
			verificationKey = viper.GetString("verification_key")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.veralog/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "", "ledger server host:port (default localhost:3322)")
	rootCmd.PersistentFlags().StringVar(&database, "database", "", "logical database (default defaultdb)")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "trust anchor directory (default ~/.veralog)")
	rootCmd.PersistentFlags().StringVar(&verificationKey, "key", "", "PEM file with the server's state signing public key")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(refCmd)
	rootCmd.AddCommand(zaddCmd)
	rootCmd.AddCommand(txCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(versionCmd)
}

// ── plumbing ─────────────────────────────────────────────────────────────────

// newClient builds a verified client against the configured server, with
// anchors persisted under the state directory and any cached session token
// attached.
func newClient() (*client.Client, func(), error) {
	store, err := state.OpenLevelDB(filepath.Join(stateDir, "anchors"))
	if err != nil {
		return nil, nil, err
	}

	opts := []client.Option{client.WithStateService(store)}
	if verificationKey != "" {
		opts = append(opts, client.WithServerSigningKeyFile(verificationKey))
	}
	if tok, err := os.ReadFile(tokenPath()); err == nil && len(tok) > 0 {
		opts = append(opts, client.WithSessionToken(strings.TrimSpace(string(tok))))
	}

	c, err := client.NewFromURI(fmt.Sprintf("veralog://%s/%s", serverAddr, database), opts...)
	if err != nil {
		store.Close() //nolint:errcheck
		return nil, nil, err
	}
	cleanup := func() {
		c.Close()     //nolint:errcheck
		store.Close() //nolint:errcheck
	}
	return c, cleanup, nil
}

func tokenPath() string {
	return filepath.Join(stateDir, "token")
}

// readPassword prompts on a terminal, or reads one line when piped.
func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if terminal.IsTerminal(fd) {
		fmt.Print("Password: ")
		pw, err := terminal.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(pw), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func printEntry(e *client.VerifiedEntry) {
	fmt.Printf("Key:      %s\n", e.Key)
	fmt.Printf("Value:    %s\n", e.Value)
	fmt.Printf("Tx:       %d\n", e.Tx)
	if e.Revision > 0 {
		fmt.Printf("Revision: %d\n", e.Revision)
	}
	if e.ReferencedBy != nil {
		fmt.Printf("Via:      %s (reference from tx %d)\n", e.ReferencedBy.Key, e.ReferencedBy.Tx)
	}
	fmt.Println("\n✓ inclusion and consistency verified")
}

// ── login / logout ───────────────────────────────────────────────────────────

var loginCmd = &cobra.Command{
	Use:   "login <user>",
	Short: "Open a session and cache its token under the state directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readPassword()
		if err != nil {
			return err
		}

		c, cleanup, err := newClient()
		if err != nil {
			return err
		}
		defer cleanup()

		if err := c.Login(context.Background(), args[0], password); err != nil {
			return err
		}
		if err := os.WriteFile(tokenPath(), []byte(c.SessionToken()), 0o600); err != nil {
			return fmt.Errorf("save session token: %w", err)
		}

		fmt.Printf("✓ logged in as %s\n", args[0])
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Close the session and discard the cached token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, cleanup, err := newClient()
		if err != nil {
			return err
		}
		defer cleanup()

		if err := c.Logout(context.Background()); err != nil {
			fmt.Printf("note: server-side logout failed: %v\n", err)
		}
		if err := os.Remove(tokenPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove session token: %w", err)
		}

		fmt.Println("✓ logged out")
		return nil
	},
}

// ── set / get ────────────────────────────────────────────────────────────────

var setCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Write a key/value pair and verify its inclusion proof",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, cleanup, err := newClient()
		if err != nil {
			return err
		}
		defer cleanup()

		hdr, err := c.VerifiedSet(context.Background(), []byte(args[0]), []byte(args[1]))
		if err != nil {
			return err
		}

		fmt.Printf("✓ %q written and verified at tx %d\n", args[0], hdr.ID)
		return nil
	},
}

var (
	getAt    uint64
	getSince uint64
)

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Read a key with inclusion and consistency verification",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if getAt > 0 && getSince > 0 {
			return errors.New("--at and --since are mutually exclusive")
		}

		c, cleanup, err := newClient()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx := context.Background()
		key := []byte(args[0])

		var e *client.VerifiedEntry
		switch {
		case getAt > 0:
			e, err = c.VerifiedGetAt(ctx, key, getAt)
		case getSince > 0:
			e, err = c.VerifiedGetSince(ctx, key, getSince)
		default:
			e, err = c.VerifiedGet(ctx, key)
		}
		if err != nil {
			return err
		}

		printEntry(e)
		return nil
	},
}

func init() {
	getCmd.Flags().Uint64Var(&getAt, "at", 0, "Read the revision written exactly at this tx")
	getCmd.Flags().Uint64Var(&getSince, "since", 0, "Read the newest revision at or after this tx")
}

// ── ref / zadd ───────────────────────────────────────────────────────────────

var refAt uint64

var refCmd = &cobra.Command{
	Use:   "ref <key> <referred-key>",
	Short: "Create a verified reference (alias) to another key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, cleanup, err := newClient()
		if err != nil {
			return err
		}
		defer cleanup()

		hdr, err := c.VerifiedSetReferenceAt(context.Background(), []byte(args[0]), []byte(args[1]), refAt)
		if err != nil {
			return err
		}

		fmt.Printf("✓ %q now resolves to %q (tx %d)\n", args[0], args[1], hdr.ID)
		return nil
	},
}

var zaddAt uint64

var zaddCmd = &cobra.Command{
	Use:   "zadd <set> <score> <member-key>",
	Short: "Add a key to a sorted set with a verified write",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		score, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("score %q: %w", args[1], err)
		}

		c, cleanup, err := newClient()
		if err != nil {
			return err
		}
		defer cleanup()

		hdr, err := c.VerifiedZAddAt(context.Background(), []byte(args[0]), score, []byte(args[2]), zaddAt)
		if err != nil {
			return err
		}

		fmt.Printf("✓ %q scored %s in %q (tx %d)\n", args[2], args[1], args[0], hdr.ID)
		return nil
	},
}

func init() {
	refCmd.Flags().Uint64Var(&refAt, "at", 0, "Bind the reference to the revision at this tx (0 = latest)")
	zaddCmd.Flags().Uint64Var(&zaddAt, "at", 0, "Bind the member to the revision at this tx (0 = latest)")
}

// ── tx / history ─────────────────────────────────────────────────────────────

var txCmd = &cobra.Command{
	Use:   "tx <id>",
	Short: "Fetch a transaction and verify it against the trust anchor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil || id == 0 {
			return fmt.Errorf("transaction id must be a positive integer, got %q", args[0])
		}

		c, cleanup, err := newClient()
		if err != nil {
			return err
		}
		defer cleanup()

		tx, err := c.VerifiedTxByID(context.Background(), id)
		if err != nil {
			return err
		}

		hdr := tx.Header
		fmt.Printf("Tx:      %d\n", hdr.ID)
		fmt.Printf("Time:    %s\n", time.Unix(hdr.Ts, 0).UTC().Format(time.RFC3339))
		fmt.Printf("Entries: %d\n\n", hdr.Nentries)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tDIGEST")
		for _, e := range tx.Entries {
			fmt.Fprintf(w, "%s\t%x\n", e.Key, e.Digest)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		fmt.Println("\n✓ transaction verified against the trust anchor")
		return nil
	},
}

var (
	histLimit  int
	histOffset uint64
	histDesc   bool
)

var historyCmd = &cobra.Command{
	Use:   "history <key>",
	Short: "List the revisions of a key (unverified read)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, cleanup, err := newClient()
		if err != nil {
			return err
		}
		defer cleanup()

		entries, err := c.History(context.Background(), &schema.HistoryRequest{
			Key:    []byte(args[0]),
			Offset: histOffset,
			Limit:  histLimit,
			Desc:   histDesc,
		})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TX\tREVISION\tVALUE")
		for _, e := range entries.Entries {
			fmt.Fprintf(w, "%d\t%d\t%s\n", e.Tx, e.Revision, e.Value)
		}
		return w.Flush()
	},
}

func init() {
	historyCmd.Flags().IntVar(&histLimit, "limit", 10, "Maximum number of revisions to list")
	historyCmd.Flags().Uint64Var(&histOffset, "offset", 0, "Revisions to skip from the start")
	historyCmd.Flags().BoolVar(&histDesc, "desc", false, "Newest revision first")
}

// ── state / health / audit ───────────────────────────────────────────────────

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the local trust anchor and the server's head",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, cleanup, err := newClient()
		if err != nil {
			return err
		}
		defer cleanup()
		ctx := context.Background()

		anchor, err := c.CurrentAnchor(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Database: %s\n", database)
		if anchor.TxID == 0 {
			fmt.Println("Anchor:   none (first verified operation pins one)")
		} else {
			fmt.Printf("Anchor:   tx %d\n", anchor.TxID)
			fmt.Printf("Hash:     %x\n", anchor.TxHash)
			if len(anchor.Signature) > 0 {
				fmt.Println("Signed:   yes")
			}
		}

		head, err := c.CurrentState(ctx)
		if err != nil {
			fmt.Printf("Server:   unreachable (%v)\n", err)
			return nil
		}
		fmt.Printf("Server:   tx %d\n", head.TxID)
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the ledger server's health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, cleanup, err := newClient()
		if err != nil {
			return err
		}
		defer cleanup()
		ctx := context.Background()

		h, err := c.Health(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Status:  %s\n", h.Status)
		fmt.Printf("Version: %s\n", h.Version)

		if err := c.HealthCheck(ctx); err != nil {
			return fmt.Errorf("grpc health: %w", err)
		}
		fmt.Println("✓ serving")
		return nil
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Re-verify the ledger head against the local trust anchor",
	Long: `audit fetches the server's head transaction and runs the full proof
check against the locally pinned anchor. A clean run means everything
written since the anchor is an append-only extension of what this
machine verified before.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, cleanup, err := newClient()
		if err != nil {
			return err
		}
		defer cleanup()
		ctx := context.Background()

		before, err := c.CurrentAnchor(ctx)
		if err != nil {
			return err
		}
		head, err := c.CurrentState(ctx)
		if err != nil {
			return fmt.Errorf("fetch head: %w", err)
		}
		if head.TxID == 0 {
			fmt.Println("ledger is empty, nothing to audit")
			return nil
		}

		if _, err := c.VerifiedTxByID(ctx, head.TxID); err != nil {
			if errors.Is(err, ledger.ErrTamperDetected) || errors.Is(err, state.ErrInvalidSignature) {
				return fmt.Errorf("TAMPERING DETECTED at tx %d: %w", head.TxID, err)
			}
			return fmt.Errorf("audit tx %d: %w", head.TxID, err)
		}

		fmt.Printf("✓ head tx %d consistent with the local anchor (was tx %d)\n", head.TxID, before.TxID)
		return nil
	},
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the veralog CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("veralog %s\n", version)
	},
}
