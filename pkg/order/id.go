package order

import (
	"math/rand"
	"strconv"
	"strings"
	"time"
)

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"
const hexdigits = "0123456789abcdef"

// NewOrderID returns an id like "ord_1717171717000_x7k2p9q".
func NewOrderID() string {
	var sb strings.Builder
	sb.WriteString("ord_")
	sb.WriteString(strconv.FormatInt(time.Now().UnixMilli(), 10))
	sb.WriteByte('_')
	for i := 0; i < 7; i++ {
		sb.WriteByte(base36[rand.Intn(len(base36))])
	}
	return sb.String()
}

// NewTxHash returns a 64-character hex settlement reference.
func NewTxHash() string {
	var sb strings.Builder
	for i := 0; i < 64; i++ {
		sb.WriteByte(hexdigits[rand.Intn(len(hexdigits))])
	}
	return sb.String()
}
