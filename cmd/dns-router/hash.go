package main

import (
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/bcrypt"
)

const defaultHashCost = 12

// runHashPassword prints a bcrypt hash of password in the api config format.
func runHashPassword(out io.Writer, password string, cost int) error {
	if password == "" {
		return errors.New("password must not be empty")
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return fmt.Errorf("cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return fmt.Errorf("generating hash: %w", err)
	}

	fmt.Fprintln(out, "# Copy this into your config.yml:")
	fmt.Fprintln(out, "api:")
	fmt.Fprintln(out, "  enabled: true")
	fmt.Fprintln(out, `  username: "admin"`)
	fmt.Fprintf(out, "  password_hash: %q\n", string(hash))
	return nil
}
