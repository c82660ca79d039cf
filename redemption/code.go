package redemption

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const codeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// CodeGenerator returns a claim code for the redemption with the given id.
type CodeGenerator func(id uuid.UUID) (string, error)

// NewClaimCode builds R-<last six hex digits of id>-<four random base36
// characters>, upper case.
func NewClaimCode(id uuid.UUID) (string, error) {
	hex := strings.ReplaceAll(id.String(), "-", "")
	suffix := make([]byte, 4)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range suffix {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate claim code: %w", err)
		}
		suffix[i] = codeAlphabet[n.Int64()]
	}
	return fmt.Sprintf("R-%s-%s", strings.ToUpper(hex[len(hex)-6:]), suffix), nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
