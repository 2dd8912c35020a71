// Package validation provides input validation for deployment
// submissions.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
)

// Limits applied before a submission reaches the pipeline.
const (
	// MaxSourceBytes caps contract source size. solc input beyond this
	// is almost certainly abuse, not a real contract.
	MaxSourceBytes = 1 << 20 // 1 MiB

	// MaxContractNameLength caps the contract name.
	MaxContractNameLength = 64

	// MaxConstructorArgs caps the constructor argument count.
	MaxConstructorArgs = 32
)

// Contract names: Solidity identifier rules, letter or underscore
// first.
var contractNameRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateSourceCode checks the submitted source text.
func ValidateSourceCode(code string) error {
	if strings.TrimSpace(code) == "" {
		return errors.New("source code cannot be empty")
	}
	if len(code) > MaxSourceBytes {
		return fmt.Errorf("source code too large (max %d bytes)", MaxSourceBytes)
	}
	return nil
}

// ValidateContractName checks a contract name against Solidity
// identifier rules.
func ValidateContractName(name string) error {
	if name == "" {
		return errors.New("contract name cannot be empty")
	}
	if len(name) > MaxContractNameLength {
		return fmt.Errorf("contract name too long (max %d chars)", MaxContractNameLength)
	}
	if !contractNameRegex.MatchString(name) {
		return errors.New("invalid contract name: must be a valid identifier (letters, digits, underscores, not starting with a digit)")
	}
	return nil
}

// ValidateConstructorArgs checks the constructor argument list.
func ValidateConstructorArgs(args []any) error {
	if len(args) > MaxConstructorArgs {
		return fmt.Errorf("too many constructor arguments (max %d)", MaxConstructorArgs)
	}
	return nil
}

// ValidateCompilerVersion validates a solc version string like
// "0.8.24". Empty means "service default" and is allowed.
func ValidateCompilerVersion(v string) error {
	if v == "" {
		return nil
	}
	normalized := strings.TrimPrefix(v, "v")
	if !semver.IsValid("v" + normalized) {
		return errors.New("invalid compiler version: must be in format X.Y.Z")
	}
	parts := strings.SplitN(normalized, "-", 2)
	if strings.Count(parts[0], ".") < 2 {
		return errors.New("invalid compiler version: must be in format X.Y.Z (major.minor.patch)")
	}
	return nil
}

// ValidateAddress validates an Ethereum address
func ValidateAddress(addr string) error {
	if len(addr) != 42 {
		return errors.New("invalid address length: must be 42 characters (0x + 40 hex)")
	}
	if !strings.HasPrefix(addr, "0x") {
		return errors.New("invalid address: must start with 0x")
	}
	// Check hex characters
	for _, c := range addr[2:] {
		isDigit := c >= '0' && c <= '9'
		isLowerHex := c >= 'a' && c <= 'f'
		isUpperHex := c >= 'A' && c <= 'F'
		if !isDigit && !isLowerHex && !isUpperHex {
			return errors.New("invalid address: contains non-hex characters")
		}
	}
	return nil
}
