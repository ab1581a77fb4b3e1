// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/privacysse/config"
	"github.com/cardinalhq/privacysse/internal/cipher"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "keygen",
		Short: "print a new random encryption key",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			key, err := cipher.GenerateKey()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(c.OutOrStdout(), key)
			return err
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "encrypt [value...]",
		Short: "encrypt values with the configured key",
		Long:  "Encrypt each argument, or each line of standard input when no arguments are given, printing one token per line.",
		RunE: func(c *cobra.Command, args []string) error {
			f, err := loadCipher()
			if err != nil {
				return err
			}
			return eachValue(c.InOrStdin(), args, func(v string) error {
				tok, err := f.Encrypt([]byte(v))
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(c.OutOrStdout(), string(tok))
				return err
			})
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "decrypt [token...]",
		Short: "decrypt tokens with the configured key",
		Long:  "Decrypt each argument, or each line of standard input when no arguments are given, printing one value per line.",
		RunE: func(c *cobra.Command, args []string) error {
			f, err := loadCipher()
			if err != nil {
				return err
			}
			return eachValue(c.InOrStdin(), args, func(v string) error {
				msg, err := f.Decrypt([]byte(v))
				if err != nil {
					return fmt.Errorf("%q: %w", v, err)
				}
				_, err = fmt.Fprintln(c.OutOrStdout(), string(msg))
				return err
			})
		},
	})
}

func loadCipher() (*cipher.Fernet, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return cipher.New(cfg.Crypto.Key)
}

func eachValue(in io.Reader, args []string, fn func(string) error) error {
	if len(args) > 0 {
		for _, a := range args {
			if err := fn(a); err != nil {
				return err
			}
		}
		return nil
	}
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	return sc.Err()
}
