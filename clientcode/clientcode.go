// Package clientcode derives the 10-digit client code that keys every
// measurement campaign in the database.
//
// The code comes from the capture filename, tried in order:
//
//  1. the last 10 consecutive digits immediately before the extension
//  2. the first run of 10+ consecutive digits anywhere in the stem
//  3. the last 10 of all digits in the stem concatenated
//  4. the 10 low-order decimal digits of the MD5 of the full filename
//
// Step 4 makes the derivation total and deterministic: reruns over a file
// with no usable digits always resolve to the same code.
package clientcode

import (
	"crypto/md5"
	"fmt"
	"math/big"
	"path/filepath"
	"strings"
)

const codeLen = 10

var tenTo10 = new(big.Int).Exp(big.NewInt(10), big.NewInt(codeLen), nil)

// Derive returns the 10-digit client code for a capture filename.
// The argument is the base name including extension; directories are ignored.
func Derive(filename string) string {
	filename = filepath.Base(filename)
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))

	if code, ok := trailingRun(stem); ok {
		return code
	}
	if code, ok := firstLongRun(stem); ok {
		return code
	}
	if code, ok := concatenated(stem); ok {
		return code
	}
	return md5Fallback(filename)
}

// trailingRun takes the digit run that ends the stem, when it is long enough.
func trailingRun(stem string) (string, bool) {
	end := len(stem)
	start := end
	for start > 0 && isDigit(stem[start-1]) {
		start--
	}
	if end-start >= codeLen {
		return stem[end-codeLen : end], true
	}
	return "", false
}

// firstLongRun finds the first run of 10+ consecutive digits anywhere.
func firstLongRun(stem string) (string, bool) {
	runStart := -1
	for i := 0; i <= len(stem); i++ {
		if i < len(stem) && isDigit(stem[i]) {
			if runStart < 0 {
				runStart = i
			}
			continue
		}
		if runStart >= 0 && i-runStart >= codeLen {
			return stem[runStart : runStart+codeLen], true
		}
		runStart = -1
	}
	return "", false
}

// concatenated joins every digit in the stem and keeps the last 10.
func concatenated(stem string) (string, bool) {
	var b strings.Builder
	for i := 0; i < len(stem); i++ {
		if isDigit(stem[i]) {
			b.WriteByte(stem[i])
		}
	}
	digits := b.String()
	if len(digits) >= codeLen {
		return digits[len(digits)-codeLen:], true
	}
	return "", false
}

// md5Fallback interprets the MD5 of the filename as a big integer and keeps
// its 10 low-order decimal digits, zero-padded.
func md5Fallback(filename string) string {
	sum := md5.Sum([]byte(filename))
	n := new(big.Int).SetBytes(sum[:])
	n.Mod(n, tenTo10)
	return fmt.Sprintf("%010d", n)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
