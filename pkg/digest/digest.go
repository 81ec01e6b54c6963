/*
 *     Copyright 2025 The Threat Modeling MLOps Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"os"
)

// Sha256 returns the hex encoded sha256 digest of the given values.
func Sha256(values ...string) string {
	if len(values) == 0 {
		return ""
	}

	h := sha256.New()
	for _, content := range values {
		if _, err := h.Write([]byte(content)); err != nil {
			return ""
		}
	}

	return ToHashString(h)
}

// Sha256Bytes returns the hex encoded sha256 digest of the given bytes.
func Sha256Bytes(b []byte) string {
	h := sha256.New()
	if _, err := h.Write(b); err != nil {
		return ""
	}

	return ToHashString(h)
}

// Sha256Reader returns the hex encoded sha256 digest of the given reader.
func Sha256Reader(reader io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, reader); err != nil {
		return "", err
	}

	return ToHashString(h), nil
}

// Sha256File returns the hex encoded sha256 digest of the given file.
func Sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	return Sha256Reader(f)
}

// ToHashString converts hash state to the hex encoded string.
func ToHashString(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}
