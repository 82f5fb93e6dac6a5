package id

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

const refChars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// New returns a sortable entity id such as "pay_01J9...".
func New(prefix string) string {
	id := ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(rand.Reader, 0))
	return prefix + "_" + id.String()
}

// Reference returns a short human readable reference: PREFIX-####XXXX.
func Reference(prefix string) string {
	timestamp := time.Now().UnixMilli() % 10000

	b := make([]byte, 4)
	for i := range b {
		num, _ := rand.Int(rand.Reader, big.NewInt(int64(len(refChars))))
		b[i] = refChars[num.Int64()]
	}

	return fmt.Sprintf("%s-%04d%s", prefix, timestamp, string(b))
}

// Token returns an opaque random token.
func Token() string {
	return uuid.NewString()
}
