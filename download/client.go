package download

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"go-forge/catalog"
	"go-forge/log"
)

// partialSuffix marks in-progress transfers next to their destination.
const partialSuffix = ".download"

// SignatureVerifier checks a detached signature over a payload.
// Signature cryptography is pluggable; the downloader only defines the
// contract: return nil on success, a VerifyError-compatible error on
// mismatch.
type SignatureVerifier func(ctx context.Context, payload, signature, key string) error

// Downloader fetches sources into <OutDir>/sources. All download tasks
// share the one HTTP client; per-host fairness is the scheduler's job.
type Downloader struct {
	Client    *http.Client
	OutDir    string
	Logger    log.LibraryLogger
	VerifySig SignatureVerifier
}

// NewDownloader creates a Downloader with a dedicated client.
// Transparent compression is disabled so archives are stored exactly as
// served.
func NewDownloader(outDir string, logger log.LibraryLogger) *Downloader {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DisableCompression = true
	return &Downloader{
		Client: &http.Client{Transport: transport},
		OutDir: outDir,
		Logger: logger,
	}
}

// Fetch downloads mirrorURL to the destination derived from origURL.
// Existing complete files are skipped; partial transfers resume with a
// Range request when the server cooperates; the final rename is atomic.
func (d *Downloader) Fetch(ctx context.Context, origURL, mirrorURL string) error {
	dest, err := DownloadPath(d.OutDir, origURL)
	if err != nil {
		return err
	}
	name := filepath.Base(dest)

	if info, err := os.Lstat(dest); err == nil {
		if info.Mode().IsRegular() {
			d.Logger.Info("skip download: %s", name)
			return nil
		}
		d.Logger.Info("deleting: %s", name)
		if err := os.RemoveAll(dest); err != nil {
			return fmt.Errorf("failed to delete %s: %w", dest, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create source directory: %w", err)
	}

	partial := dest + partialSuffix
	f, err := os.OpenFile(partial, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", partial, err)
	}
	defer f.Close()

	offset, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("failed to seek %s: %w", partial, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mirrorURL, nil)
	if err != nil {
		return &DownloadError{URL: mirrorURL, Reason: err.Error(), Err: err}
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	d.Logger.Info("downloading: %s", name)

	resp, err := d.Client.Do(req)
	if err != nil {
		return &DownloadError{URL: mirrorURL, Reason: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &DownloadError{URL: mirrorURL, Reason: resp.Status}
	}

	if resp.StatusCode != http.StatusPartialContent {
		// server ignored the range request, restart from scratch
		if err := f.Truncate(0); err != nil {
			return fmt.Errorf("failed to truncate %s: %w", partial, err)
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("failed to seek %s: %w", partial, err)
		}
	}

	if _, err := io.Copy(f, resp.Body); err != nil {
		return &DownloadError{URL: mirrorURL, Reason: err.Error(), Err: err}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", partial, err)
	}

	if err := os.Rename(partial, dest); err != nil {
		return fmt.Errorf("failed to rename %s: %w", partial, err)
	}

	d.Logger.Info("download succeeded: %s", name)
	return nil
}

// Verify checks the downloaded payload of src: the sha256 checksum when
// configured, then the detached signature through the pluggable
// verifier.
func (d *Downloader) Verify(ctx context.Context, src *catalog.Source) error {
	dest, err := DownloadPath(d.OutDir, src.URL)
	if err != nil {
		return err
	}

	if src.SHA256Sum != "" {
		sum, err := fileSHA256(dest)
		if err != nil {
			return err
		}
		if sum != src.SHA256Sum {
			return &VerifyError{Path: dest, Got: sum, Want: src.SHA256Sum}
		}
	}

	if src.GPGSig != "" && d.VerifySig != nil {
		sigPath, err := DownloadPath(d.OutDir, src.GPGSig)
		if err != nil {
			return err
		}
		if err := d.VerifySig(ctx, dest, sigPath, src.GPGKey); err != nil {
			return err
		}
	}

	return nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
