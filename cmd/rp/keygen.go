package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/pardot/rp/tokencipher"
)

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Print a fresh token encryption key and session secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return keygen(cmd.OutOrStdout(), rand.Reader)
		},
	}
}

func keygen(w io.Writer, r io.Reader) error {
	key := make([]byte, tokencipher.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return errors.Wrap(err, "generating encryption key")
	}
	secret := make([]byte, 32)
	if _, err := io.ReadFull(r, secret); err != nil {
		return errors.Wrap(err, "generating session secret")
	}

	_, err := fmt.Fprintf(w, "RP_TOKEN_ENCRYPTION_KEY=%s\nRP_SESSION_SECRET=%s\n",
		hex.EncodeToString(key), base64.RawURLEncoding.EncodeToString(secret))
	return err
}
