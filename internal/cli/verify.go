package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/updatekit/updatekit/internal/update"
	"github.com/updatekit/updatekit/internal/updater"
)

type verifyResponse struct {
	Success bool   `json:"success"`
	File    string `json:"file"`
	SHA256  string `json:"sha256"`
	Valid   bool   `json:"valid"`
}

func (a *app) newVerifyCmd() *cobra.Command {
	var file, hash string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a file's SHA-256 checksum",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			valid, err := update.VerifyFile(file, hash)
			if err != nil {
				return err
			}
			actual, err := update.HashFile(file)
			if err != nil {
				return err
			}

			if a.jsonOutput {
				if err := a.printJSON(verifyResponse{Success: valid, File: file, SHA256: actual, Valid: valid}); err != nil {
					return err
				}
			} else if valid {
				fmt.Fprintf(a.stdout, "OK %s\n", file)
			} else {
				fmt.Fprintf(a.stdout, "MISMATCH %s\n  expected: %s\n  actual:   %s\n", file, hash, actual)
			}

			if !valid {
				return &reportedError{err: updater.ErrHashMismatch}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "File to verify")
	cmd.Flags().StringVar(&hash, "hash", "", "Expected SHA-256 as hex (case-insensitive)")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("hash")
	return cmd
}
