package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/modsec"
)

// SecurityOptions holds the flags shared by the security subcommands.
type SecurityOptions struct {
	*RootOptions
	SignersPath string
}

// NewSecurityCommand creates `eidolon security` with its subcommands.
func NewSecurityCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SecurityOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "security",
		Short: "Verify, sign and manage trust for modules",
	}
	cmd.PersistentFlags().StringVar(&opts.SignersPath, "signers", "", "trusted signers registry path")

	cmd.AddCommand(newVerifyCommand(opts))
	cmd.AddCommand(newSignCommand(opts))
	cmd.AddCommand(newGenerateKeypairCommand(opts))
	cmd.AddCommand(newTrustCommand(opts))
	cmd.AddCommand(newUntrustCommand(opts))
	cmd.AddCommand(newListTrustedCommand(opts))
	return cmd
}

func (o *SecurityOptions) loadSigners() (*modsec.TrustedSigners, string, error) {
	settings := resolveSettings("", "", o.SignersPath)
	signers, err := modsec.LoadTrustedSigners(settings.SignersPath)
	if err != nil {
		return nil, "", exitErrorf(3, "%v", err)
	}
	return signers, settings.SignersPath, nil
}

func newVerifyCommand(opts *SecurityOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "verify <module-path>",
		Short:         "Verify a module's signature against the trusted signers",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			signers, _, err := opts.loadSigners()
			if err != nil {
				return err
			}
			verdict, err := modsec.Verify(args[0], signers)
			if err != nil {
				return exitErrorf(3, "verify %s: %v", args[0], err)
			}
			fmt.Fprintf(opts.OutW, "digest:  %s\n", verdict.Digest)
			switch verdict.Kind {
			case modsec.VerifiedByTrusted:
				fmt.Fprintf(opts.OutW, "verdict: verified (signer %s)\n", verdict.Signer)
				return nil
			case modsec.SignedUntrusted:
				fmt.Fprintln(opts.OutW, "verdict: signed, but by no trusted signer")
			case modsec.Unsigned:
				fmt.Fprintln(opts.OutW, "verdict: unsigned")
			default:
				fmt.Fprintln(opts.OutW, "verdict: invalid signature")
			}
			return &ExitError{Code: 2, Message: fmt.Sprintf("module %s is not verified", args[0])}
		},
	}
}

func newSignCommand(opts *SecurityOptions) *cobra.Command {
	var keyPath string
	cmd := &cobra.Command{
		Use:           "sign <module-path>",
		Short:         "Produce a detached signature for a module directory",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			priv, err := modsec.LoadPrivateKeyFile(keyPath)
			if err != nil {
				return exitErrorf(3, "load key %s: %v", keyPath, err)
			}
			digest, err := modsec.HashModuleDir(args[0])
			if err != nil {
				return exitErrorf(3, "%v", err)
			}
			sig, err := modsec.Sign(priv, digest)
			if err != nil {
				return exitErrorf(3, "sign: %v", err)
			}
			sigPath := filepath.Join(args[0], modsec.SignatureFileName)
			if err := os.WriteFile(sigPath, sig, 0o644); err != nil {
				return exitErrorf(3, "write signature: %v", err)
			}
			fmt.Fprintf(opts.OutW, "signed %s (digest %s)\n", args[0], digest)
			return nil
		},
	}
	cmd.Flags().StringVar(&keyPath, "key", "", "PEM private key to sign with")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func newGenerateKeypairCommand(opts *SecurityOptions) *cobra.Command {
	var outputDir string
	var bits int
	cmd := &cobra.Command{
		Use:           "generate-keypair",
		Short:         "Generate a new RSA signing key pair",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			priv, err := modsec.GenerateKeyPair(bits)
			if err != nil {
				return exitErrorf(3, "%v", err)
			}
			privPEM, err := modsec.EncodePrivatePEM(priv)
			if err != nil {
				return exitErrorf(3, "%v", err)
			}
			pubPEM, err := modsec.EncodePublicPEM(&priv.PublicKey)
			if err != nil {
				return exitErrorf(3, "%v", err)
			}
			if err := os.MkdirAll(outputDir, 0o755); err != nil {
				return exitErrorf(3, "%v", err)
			}
			privPath := filepath.Join(outputDir, "private_key.pem")
			pubPath := filepath.Join(outputDir, "public_key.pem")
			if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
				return exitErrorf(3, "%v", err)
			}
			if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil {
				return exitErrorf(3, "%v", err)
			}
			fmt.Fprintf(opts.OutW, "wrote %s and %s\n", privPath, pubPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&outputDir, "output-dir", ".", "directory for the key files")
	cmd.Flags().IntVar(&bits, "bits", modsec.DefaultKeyBits, "RSA modulus size")
	return cmd
}

func newTrustCommand(opts *SecurityOptions) *cobra.Command {
	var keyPath, id, comment string
	cmd := &cobra.Command{
		Use:           "trust",
		Short:         "Add a public key to the trusted signers registry",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			signers, path, err := opts.loadSigners()
			if err != nil {
				return err
			}
			pem, err := os.ReadFile(keyPath)
			if err != nil {
				return exitErrorf(3, "read key %s: %v", keyPath, err)
			}
			if err := signers.Trust(id, string(pem), comment); err != nil {
				return exitErrorf(3, "%v", err)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return exitErrorf(3, "%v", err)
			}
			if err := signers.Save(path); err != nil {
				return exitErrorf(3, "save registry: %v", err)
			}
			fmt.Fprintf(opts.OutW, "trusted signer %q\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&keyPath, "key", "", "PEM public key to trust")
	cmd.Flags().StringVar(&id, "id", "", "unique signer id")
	cmd.Flags().StringVar(&comment, "comment", "", "human-readable comment")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newUntrustCommand(opts *SecurityOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "untrust <signer-id>",
		Short:         "Remove a signer from the trusted signers registry",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			signers, path, err := opts.loadSigners()
			if err != nil {
				return err
			}
			if err := signers.Untrust(args[0]); err != nil {
				return exitErrorf(3, "%v", err)
			}
			if err := signers.Save(path); err != nil {
				return exitErrorf(3, "save registry: %v", err)
			}
			fmt.Fprintf(opts.OutW, "removed signer %q\n", args[0])
			return nil
		},
	}
}

func newListTrustedCommand(opts *SecurityOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list-trusted",
		Short:         "List the trusted signers",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			signers, _, err := opts.loadSigners()
			if err != nil {
				return err
			}
			ids := signers.IDs()
			if len(ids) == 0 {
				fmt.Fprintln(opts.OutW, "no trusted signers")
				return nil
			}
			w := tabwriter.NewWriter(opts.OutW, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCOMMENT")
			for _, id := range ids {
				rec, _ := signers.Record(id)
				fmt.Fprintf(w, "%s\t%s\n", id, rec.Comment)
			}
			return w.Flush()
		},
	}
}
