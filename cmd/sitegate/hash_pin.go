package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	sitegate "github.com/goliatone/go-sitegate"
	"github.com/spf13/cobra"
)

func newHashPINCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-pin [PIN]",
		Short: "Print the bcrypt hash to use as SITEGATE_ADMIN_PIN_HASH",
		Long:  "Hashes the admin PIN given as argument, or read from the first line of stdin.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pin := ""
			if len(args) == 1 {
				pin = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return errors.New("a PIN is required as argument or on stdin")
				}
				pin = line
			}

			pin = strings.TrimSpace(pin)
			if pin == "" {
				return errors.New("PIN must not be empty")
			}

			hash, err := sitegate.HashPassword(pin)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
}
