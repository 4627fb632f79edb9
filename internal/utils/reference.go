package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// PayTransRefPrefix marks references minted by this service
const PayTransRefPrefix = "LP"

const referenceCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateReference generates a reference of the form PREFIX_YYYYMMDD_XXXXXXXX
func GenerateReference(prefix string, now time.Time) string {
	return fmt.Sprintf("%s_%s_%s", prefix, now.UTC().Format("20060102"), RandomCode(8))
}

// GeneratePayTransRef generates the local reference attached to a purchase before it is sent to the gateway
func GeneratePayTransRef() string {
	return GenerateReference(PayTransRefPrefix, time.Now())
}

// RandomCode returns length characters drawn from A-Z0-9
func RandomCode(length int) string {
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(referenceCharset))))
		if err != nil {
			// crypto/rand only fails when the OS entropy source is unavailable
			panic(fmt.Sprintf("utils: reading random bytes: %v", err))
		}
		result[i] = referenceCharset[n.Int64()]
	}
	return string(result)
}

// TruncateString truncates a string to the specified length
func TruncateString(str string, length int) string {
	if len(str) <= length {
		return str
	}
	if length <= 3 {
		return str[:length]
	}
	return str[:length-3] + "..."
}
