package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrEthical07/authcore/password"
)

func newHashPasswordCommand() *cobra.Command {
	var verify string
	cmd := &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print the Argon2id PHC digest of a password read from the argument or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plain, err := readPassword(cmd, args)
			if err != nil {
				return err
			}

			hasher, err := password.NewArgon2(password.DefaultConfig())
			if err != nil {
				return err
			}

			if verify != "" {
				if !hasher.Verify(plain, verify) {
					return errors.New("password does not match digest")
				}
				fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return nil
			}

			digest, err := hasher.Hash(plain)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), digest)
			return nil
		},
	}
	cmd.Flags().StringVar(&verify, "verify", "", "check the password against this digest instead of hashing")
	return cmd
}

func readPassword(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return "", errors.New("empty password")
	}
	return line, nil
}
