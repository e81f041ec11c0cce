package main

import (
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrEthical07/authcore/jwt"
)

func newKeygenCommand() *cobra.Command {
	var kid string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an Ed25519 signing key for AUTHCORE_SIGNING_KEY",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := jwt.GenerateEd25519Key(kid)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "AUTHCORE_SIGNING_KEY_ID=%s\n", key.ID)
			fmt.Fprintf(out, "AUTHCORE_SIGNING_KEY=%s\n", base64.StdEncoding.EncodeToString(key.PrivateKey))
			fmt.Fprintf(out, "# public key: %s\n", base64.StdEncoding.EncodeToString(key.PublicKey))
			return nil
		},
	}
	cmd.Flags().StringVar(&kid, "kid", "k1", "key id placed in the token header")
	return cmd
}
