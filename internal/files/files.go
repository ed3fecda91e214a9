/*
Copyright 2024 Confere Labs Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package files persists uploaded receipts and statements under the data
// directory, so every record produced during reconciliation can point back
// to the exact stored file it came from.
package files

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	statementsDir = "extratos"
	receiptsDir   = "comprovantes"
)

// SaveStatement writes an uploaded statement export to
// <dataDir>/extratos/<bank>_<dd-mm-yyyy>_<uuid>.<ext> and returns the stored
// path.
func SaveStatement(dataDir, bank, originalFilename string, data []byte) (string, error) {
	name := fmt.Sprintf("%s_%s_%s%s", bank, time.Now().Format("02-01-2006"), uuid.New().String(), ext(originalFilename))
	return write(filepath.Join(dataDir, statementsDir), name, data)
}

// SaveReceipt writes an uploaded receipt image to
// <dataDir>/comprovantes/<dd-mm-yyyy>_<uuid>.<ext> and returns the stored
// path.
func SaveReceipt(dataDir, originalFilename string, data []byte) (string, error) {
	name := fmt.Sprintf("%s_%s%s", time.Now().Format("02-01-2006"), uuid.New().String(), ext(originalFilename))
	return write(filepath.Join(dataDir, receiptsDir), name, data)
}

func write(dir, name string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrapf(err, "creating upload directory %s", dir)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", errors.Wrapf(err, "writing upload %s", path)
	}
	return path, nil
}

func ext(filename string) string {
	e := strings.ToLower(filepath.Ext(filename))
	if e == "" {
		return ".bin"
	}
	return e
}
