/*
Copyright 2025 Jordi Gil.

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

package sqlstore

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	appErrors "github.com/canopyiq/toolgateway/internal/errors"
	"github.com/canopyiq/toolgateway/pkg/bundle"
)

// VersionRow is one row of policy_version.
type VersionRow struct {
	Version      string    `db:"version"`
	SHA256       []byte    `db:"sha256"`
	Path         string    `db:"path"`
	SigPath      string    `db:"sig_path"`
	CreatedAt    time.Time `db:"created_at"`
}

// VersionStore implements C3: verify-then-register bundles, versioned by
// content and timestamp, and look up a stored version's payload path.
type VersionStore struct {
	store    *Store
	verifier *bundle.Verifier
	baseDir  string // content-addressed storage root
	now      func() time.Time
}

func NewVersionStore(store *Store, baseDir string) *VersionStore {
	return &VersionStore{
		store:    store,
		verifier: bundle.NewVerifier(),
		baseDir:  baseDir,
		now:      time.Now,
	}
}

// Register verifies the bundle at payloadPath/signaturePath against
// pubkeyB64, and on success copies both files into a content-addressed
// directory and inserts a policy_version row. See spec §4.3/§4.1.
func (vs *VersionStore) Register(ctx context.Context, payloadPath, signaturePath, pubkeyB64 string) (VersionRow, error) {
	payload, result, err := vs.verifier.VerifyFiles(payloadPath, signaturePath, pubkeyB64)
	if err != nil {
		return VersionRow{}, appErrors.Wrap(err, appErrors.ErrorTypeValidation, "bundle signature verification failed").
			WithDetails(string(result.Reason))
	}
	if !result.OK {
		return VersionRow{}, appErrors.New(appErrors.ErrorTypeValidation, "bundle signature invalid").
			WithDetails(string(result.Reason))
	}

	version, err := vs.uniqueVersion(ctx, result.Digest, vs.now().UTC())
	if err != nil {
		return VersionRow{}, err
	}

	destDir := filepath.Join(vs.baseDir, version)
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return VersionRow{}, appErrors.Wrap(err, appErrors.ErrorTypeInternal, "create bundle storage directory")
	}
	destPayload := filepath.Join(destDir, "bundle.yaml")
	destSig := filepath.Join(destDir, "bundle.sig.json")
	if err := copyFile(payloadPath, destPayload); err != nil {
		return VersionRow{}, appErrors.Wrap(err, appErrors.ErrorTypeInternal, "copy bundle payload")
	}
	if err := copyFile(signaturePath, destSig); err != nil {
		return VersionRow{}, appErrors.Wrap(err, appErrors.ErrorTypeInternal, "copy bundle signature")
	}
	_ = payload // verified bytes; already persisted via copyFile above

	row := VersionRow{
		Version:   version,
		SHA256:    result.Digest[:],
		Path:      destPayload,
		SigPath:   destSig,
		CreatedAt: vs.now().UTC(),
	}

	_, err = vs.store.call(func() (any, error) {
		_, execErr := vs.store.db.ExecContext(ctx,
			`INSERT INTO policy_version (version, sha256, path, sig_path, created_at) VALUES ($1, $2, $3, $4, $5)`,
			row.Version, row.SHA256, row.Path, row.SigPath, row.CreatedAt)
		return nil, execErr
	})
	if err != nil {
		return VersionRow{}, appErrors.NewDatabaseError("insert policy_version", err)
	}
	return row, nil
}

// Lookup returns the stored payload path for a version, or a not-found
// error.
func (vs *VersionStore) Lookup(ctx context.Context, version string) (string, error) {
	var row VersionRow
	_, err := vs.store.call(func() (any, error) {
		return nil, vs.store.db.GetContext(ctx, &row,
			`SELECT version, sha256, path, sig_path, created_at FROM policy_version WHERE version = $1`, version)
	})
	if err == ErrNotFound {
		return "", appErrors.NewNotFoundError(fmt.Sprintf("policy version %q", version))
	}
	if err != nil {
		return "", appErrors.NewDatabaseError("lookup policy_version", err)
	}
	return row.Path, nil
}

// uniqueVersion derives "YYYY-MM-DD_HHMMSS_<4-hex>" from the timestamp and
// digest, extending the hex suffix if a collision is found within the same
// second (spec §3, §4.3).
func (vs *VersionStore) uniqueVersion(ctx context.Context, digest [32]byte, ts time.Time) (string, error) {
	prefix := ts.Format("2006-01-02_150405")
	hexDigest := hex.EncodeToString(digest[:])

	for n := 4; n <= len(hexDigest); n++ {
		candidate := fmt.Sprintf("%s_%s", prefix, hexDigest[:n])
		exists, err := vs.versionExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", appErrors.New(appErrors.ErrorTypeInternal, "could not allocate a unique bundle version")
}

func (vs *VersionStore) versionExists(ctx context.Context, version string) (bool, error) {
	var count int
	_, err := vs.store.call(func() (any, error) {
		return nil, vs.store.db.GetContext(ctx, &count, `SELECT count(*) FROM policy_version WHERE version = $1`, version)
	})
	if err != nil {
		return false, appErrors.NewDatabaseError("check policy_version existence", err)
	}
	return count > 0, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
