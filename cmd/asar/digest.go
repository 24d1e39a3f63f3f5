package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/meigma/asar"
	"github.com/meigma/asar/integrity"
)

type digestOptions struct {
	scope     string
	algorithm string
	id        string
	json      bool
}

func newDigestCommand(c *cli) *cobra.Command {
	var opts digestOptions
	cmd := &cobra.Command{
		Use:   "digest ARCHIVE...",
		Short: "Compute manifest entries for archives",
		Long: "Compute manifest entries for archives. The default output is the\n" +
			"line format (identifier, algorithm, hex digest) understood by verify.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runDigest(cmd, args, opts)
		},
	}
	flags := cmd.Flags()
	addScopeFlag(flags, &opts.scope)
	flags.StringVar(&opts.algorithm, "algorithm", string(integrity.DefaultAlgorithm), "SHA256, SHA384, SHA512 or BLAKE3")
	flags.StringVar(&opts.id, "id", "", "manifest identifier (single archive only; default: base name)")
	flags.BoolVar(&opts.json, "json", false, "print a JSON manifest")
	return cmd
}

func addScopeFlag(flags *pflag.FlagSet, scope *string) {
	flags.StringVar(scope, "scope", "", "digested range: file or header (default from config)")
}

func (c *cli) scope(flag string) (integrity.Scope, error) {
	if flag == "" {
		flag = c.cfg.Integrity.Scope
	}
	return integrity.ParseScope(flag)
}

// identity names an archive in the manifest the same way the filesystem
// does.
func (c *cli) identity(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if root := c.cfg.Integrity.IdentityRoot; root != "" {
		return asar.RelativeIdentity(root)(abs)
	}
	return filepath.Base(abs)
}

func (c *cli) runDigest(cmd *cobra.Command, args []string, opts digestOptions) error {
	if opts.id != "" && len(args) > 1 {
		return errors.New("--id needs exactly one archive")
	}
	alg, err := integrity.ParseAlgorithm(opts.algorithm)
	if err != nil {
		return err
	}
	scope, err := c.scope(opts.scope)
	if err != nil {
		return err
	}

	entries := make(map[string]integrity.Digest, len(args))
	for _, path := range args {
		id := opts.id
		if id == "" {
			id = c.identity(path)
		}
		if _, dup := entries[id]; dup {
			return fmt.Errorf("duplicate identifier %q", id)
		}
		a, err := c.openArchive(cmd.Context(), path)
		if err != nil {
			return err
		}
		sum, err := integrity.Compute(alg, scope, integrity.Target{
			Source: a.Source(),
			Size:   a.Size(),
			Header: a.HeaderBytes(),
		})
		a.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		entries[id] = integrity.NewDigest(alg, sum)
	}

	manifest := integrity.NewManifest(entries)
	out := cmd.OutOrStdout()
	if opts.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(manifest)
	}
	return manifest.WriteText(out)
}

type verifyOptions struct {
	manifest  string
	signature string
	keyring   string
	scope     string
	id        string
}

func newVerifyCommand(c *cli) *cobra.Command {
	var opts verifyOptions
	cmd := &cobra.Command{
		Use:   "verify ARCHIVE...",
		Short: "Check archives against an integrity manifest",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runVerify(cmd, args, opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.manifest, "manifest", "", "integrity manifest (default from config or ASAR_MANIFEST)")
	flags.StringVar(&opts.signature, "signature", "", "detached OpenPGP signature over the manifest")
	flags.StringVar(&opts.keyring, "keyring", "", "keyring trusted to sign the manifest")
	addScopeFlag(flags, &opts.scope)
	flags.StringVar(&opts.id, "id", "", "manifest identifier (single archive only; default: base name)")
	return cmd
}

func (c *cli) runVerify(cmd *cobra.Command, args []string, opts verifyOptions) error {
	if opts.id != "" && len(args) > 1 {
		return errors.New("--id needs exactly one archive")
	}
	cfg := *c.cfg
	if opts.manifest != "" {
		cfg.Integrity.Manifest = opts.manifest
	}
	if opts.signature != "" {
		cfg.Integrity.Signature = opts.signature
	}
	if opts.keyring != "" {
		cfg.Integrity.Keyring = opts.keyring
	}
	if opts.scope != "" {
		cfg.Integrity.Scope = opts.scope
	}
	if cfg.Integrity.Manifest == "" {
		return errors.New("no manifest: pass --manifest or set ASAR_MANIFEST")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	verifier, err := cfg.Verifier(c.logger)
	if err != nil {
		return err
	}

	results := make([]integrity.Result, len(args))
	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(4)
	for i, path := range args {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			id := opts.id
			if id == "" {
				id = c.identity(path)
			}
			a, err := c.openArchive(ctx, path)
			if err != nil {
				results[i] = integrity.Result{ID: id, Err: errors.Join(integrity.ErrUntrusted, err)}
				return nil
			}
			defer a.Close()
			results[i] = verifier.Verify(id, integrity.Target{
				Source: a.Source(),
				Size:   a.Size(),
				Header: a.HeaderBytes(),
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	failed := 0
	out := cmd.OutOrStdout()
	for i, res := range results {
		if res.Trusted() {
			fmt.Fprintf(out, "OK    %s (%s)\n", args[i], res.Digest())
			continue
		}
		failed++
		fmt.Fprintf(out, "FAIL  %s: %v\n", args[i], res.Err)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d archives failed verification", failed, len(args))
	}
	return nil
}
