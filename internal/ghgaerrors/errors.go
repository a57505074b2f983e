// Package ghgaerrors defines the distinct error types raised across the
// transfer engine, so callers can branch on error kind with errors.As
// instead of string matching.
package ghgaerrors

import (
	"errors"
	"fmt"
	"net"
)

// NoFileAccessError is raised when the caller's work order token does not
// grant access to the requested file.
type NoFileAccessError struct {
	FileID string
}

func (e *NoFileAccessError) Error() string {
	return fmt.Sprintf("not authorized to access file %q", e.FileID)
}

// NoUploadAccessError is raised when the caller may not operate on the
// given upload ID.
type NoUploadAccessError struct {
	UploadID string
}

func (e *NoUploadAccessError) Error() string {
	return fmt.Sprintf("not authorized to access upload %q", e.UploadID)
}

// NoWorkPackageAccessError is raised when a work package ID is unknown or
// not accessible with the given token.
type NoWorkPackageAccessError struct {
	PackageID string
}

func (e *NoWorkPackageAccessError) Error() string {
	return fmt.Sprintf("not authorized to access work package %q", e.PackageID)
}

// OrphanedUploadError is raised when a multipart upload is registered
// server-side but its parts can no longer be completed or cancelled
// consistently.
type OrphanedUploadError struct {
	FileAlias string
	BoxID     string
}

func (e *OrphanedUploadError) Error() string {
	return fmt.Sprintf("upload of %q in box %q is orphaned and cannot be completed", e.FileAlias, e.BoxID)
}

// OutputPathIsNotDirectory is raised when the configured download
// destination exists but is not a directory.
type OutputPathIsNotDirectory struct {
	Path string
}

func (e *OutputPathIsNotDirectory) Error() string {
	return fmt.Sprintf("output path %q exists and is not a directory", e.Path)
}

// PrivateKeyFileDoesNotExistError is raised when the configured private
// key path cannot be opened.
type PrivateKeyFileDoesNotExistError struct {
	Path string
}

func (e *PrivateKeyFileDoesNotExistError) Error() string {
	return fmt.Sprintf("private key file does not exist: %q", e.Path)
}

// PubKeyFileDoesNotExistError is raised when the configured public key
// path cannot be opened.
type PubKeyFileDoesNotExistError struct {
	Path string
}

func (e *PubKeyFileDoesNotExistError) Error() string {
	return fmt.Sprintf("public key file does not exist: %q", e.Path)
}

// PubKeyMismatchError reports a work package public key that does not
// match the caller's own. No code path in this module raises it: the
// work-order token is handled as an opaque string and no public key in
// it is compared with the caller's.
type PubKeyMismatchError struct {
	Expected string
	Actual   string
}

func (e *PubKeyMismatchError) Error() string {
	return fmt.Sprintf("public key mismatch: expected %q, got %q", e.Expected, e.Actual)
}

// RenameDownloadedFileError is raised when the final rename of a
// downloaded file's temporary part to its destination name fails.
type RenameDownloadedFileError struct {
	From string
	To   string
	Err  error
}

func (e *RenameDownloadedFileError) Error() string {
	return fmt.Sprintf("failed to rename %q to %q: %v", e.From, e.To, e.Err)
}

func (e *RenameDownloadedFileError) Unwrap() error { return e.Err }

// RequestFailedError wraps a failed HTTP request after retries were
// exhausted or the status code was not retryable.
type RequestFailedError struct {
	URL        string
	StatusCode int
}

func (e *RequestFailedError) Error() string {
	return fmt.Sprintf("request to %q failed with status %d", e.URL, e.StatusCode)
}

// RetryTimeExpectedError is raised when a 202 response is missing the
// required Retry-After header.
type RetryTimeExpectedError struct {
	URL string
}

func (e *RetryTimeExpectedError) Error() string {
	return fmt.Sprintf("expected Retry-After header in response from %q", e.URL)
}

// S3StorageError wraps a failure in a direct S3 object-storage operation
// (PUT/GET against a presigned URL), or a 400 from the upload service
// reporting that the underlying S3 storage rejected a request it made
// on the caller's behalf, in which case Operation/Err are empty and
// WorkPackageID identifies the work package instead.
type S3StorageError struct {
	Operation     string
	Err           error
	WorkPackageID string
}

func (e *S3StorageError) Error() string {
	if e.Operation == "" {
		return fmt.Sprintf("S3 storage error for work package %q", e.WorkPackageID)
	}
	return fmt.Sprintf("S3 storage error during %s: %v", e.Operation, e.Err)
}

func (e *S3StorageError) Unwrap() error { return e.Err }

// S3UploadDetailsError is raised when the upload service has no S3
// multipart-upload details on record for a file upload.
type S3UploadDetailsError struct {
	FileAlias     string
	WorkPackageID string
}

func (e *S3UploadDetailsError) Error() string {
	return fmt.Sprintf("no S3 upload details for file %q in work package %q", e.FileAlias, e.WorkPackageID)
}

// S3UploadMissingError is raised when the upload service expected an
// in-progress S3 multipart upload to exist but none was found.
type S3UploadMissingError struct{}

func (e *S3UploadMissingError) Error() string {
	return "no S3 multipart upload in progress"
}

// StartUploadError is raised when the upload service refuses to create a
// new file upload.
type StartUploadError struct {
	FileID string
	Reason string
}

func (e *StartUploadError) Error() string {
	return fmt.Sprintf("failed to start upload for file %q: %s", e.FileID, e.Reason)
}

// UnauthorizedAPICallError is raised on a 401/403 that is not covered by
// a more specific access error.
type UnauthorizedAPICallError struct {
	URL   string
	Cause string
}

func (e *UnauthorizedAPICallError) Error() string {
	if e.Cause == "" {
		return fmt.Sprintf("unauthorized call to %q", e.URL)
	}
	return fmt.Sprintf("unauthorized call to %q: %s", e.URL, e.Cause)
}

// UnexpectedError wraps any error condition that does not fit a more
// specific taxonomy entry, preserving the original cause.
type UnexpectedError struct {
	Context string
	Err     error
}

func (e *UnexpectedError) Error() string {
	return fmt.Sprintf("unexpected error (%s): %v", e.Context, e.Err)
}

func (e *UnexpectedError) Unwrap() error { return e.Err }

// UnexpectedRetryResponseError is raised when a 202 response's
// Retry-After header is present but is not a valid non-negative integer.
type UnexpectedRetryResponseError struct {
	URL   string
	Value string
}

func (e *UnexpectedRetryResponseError) Error() string {
	return fmt.Sprintf("unexpected Retry-After value %q from %q", e.Value, e.URL)
}

// UploadAlreadyExistsError is raised when a file already has a pending
// or completed upload and a new one is requested without cancelling it.
type UploadAlreadyExistsError struct {
	WorkPackageID string
}

func (e *UploadAlreadyExistsError) Error() string {
	return fmt.Sprintf("upload already exists for work package %q", e.WorkPackageID)
}

// UploadBoxLockedError is raised when the upload box is locked by a
// concurrent operation (e.g. the upload service is finalizing it).
type UploadBoxLockedError struct {
	WorkPackageID string
}

func (e *UploadBoxLockedError) Error() string {
	return fmt.Sprintf("upload box for work package %q is locked", e.WorkPackageID)
}

// UploadFileError wraps a failure while streaming the encrypted payload
// of a single part to its presigned URL.
type UploadFileError struct {
	FileID string
	PartNo int
	Err    error
}

func (e *UploadFileError) Error() string {
	return fmt.Sprintf("failed to upload part %d of file %q: %v", e.PartNo, e.FileID, e.Err)
}

func (e *UploadFileError) Unwrap() error { return e.Err }

// UploadIdUnsetError is raised when an operation that requires an active
// upload ID is attempted before one has been created.
type UploadIdUnsetError struct {
	FileID string
}

func (e *UploadIdUnsetError) Error() string {
	return fmt.Sprintf("no active upload ID set for file %q", e.FileID)
}

// UploadNotRegisteredError is raised when an upload ID is well-formed but
// unknown to the upload service.
type UploadNotRegisteredError struct {
	UploadID string
}

func (e *UploadNotRegisteredError) Error() string {
	return fmt.Sprintf("upload %q is not registered", e.UploadID)
}

// WellKnownValueNotFound is raised when the well-known-value service does
// not have an entry for the requested key.
type WellKnownValueNotFound struct {
	Key string
}

func (e *WellKnownValueNotFound) Error() string {
	return fmt.Sprintf("well-known value %q not found", e.Key)
}

// BadResponseCodeError is raised for any response status code the caller
// did not explicitly handle, carrying the body for diagnostics.
type BadResponseCodeError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *BadResponseCodeError) Error() string {
	return fmt.Sprintf("unexpected status %d from %q: %s", e.StatusCode, e.URL, e.Body)
}

// FileDoesNotExistError is raised when a source file named on the
// command line cannot be found on disk.
type FileDoesNotExistError struct {
	Path string
}

func (e *FileDoesNotExistError) Error() string {
	return fmt.Sprintf("file does not exist: %q", e.Path)
}

// FileAlreadyExistsError is raised when a download destination already
// exists and --overwrite was not given.
type FileAlreadyExistsError struct {
	Path string
}

func (e *FileAlreadyExistsError) Error() string {
	return fmt.Sprintf("file already exists: %q", e.Path)
}

// FileAlreadyEncryptedError is raised when an upload source already
// carries a Crypt4GH envelope.
type FileAlreadyEncryptedError struct {
	Path string
}

func (e *FileAlreadyEncryptedError) Error() string {
	return fmt.Sprintf("file is already crypt4gh-encrypted: %q", e.Path)
}

// DirectoryDoesNotExistError is raised when a configured input or output
// directory cannot be opened.
type DirectoryDoesNotExistError struct {
	Path string
}

func (e *DirectoryDoesNotExistError) Error() string {
	return fmt.Sprintf("directory does not exist: %q", e.Path)
}

// InvalidWorkPackageTokenError is raised when the user failed to supply a
// valid work package access token within the allowed number of tries.
type InvalidWorkPackageTokenError struct {
	Tries int
}

func (e *InvalidWorkPackageTokenError) Error() string {
	return fmt.Sprintf("no valid work package access token entered after %d tries", e.Tries)
}

// InvalidWorkPackageResponseError is raised when the work package service
// returns a response that cannot be matched to a known error kind.
type InvalidWorkPackageResponseError struct {
	URL        string
	StatusCode int
}

func (e *InvalidWorkPackageResponseError) Error() string {
	return fmt.Sprintf("invalid response from work package service %q: status %d", e.URL, e.StatusCode)
}

// ApiNotReachableError is raised when a service's health endpoint does
// not respond within the allotted time.
type ApiNotReachableError struct {
	APIURL string
}

func (e *ApiNotReachableError) Error() string {
	return fmt.Sprintf("API not reachable: %q", e.APIURL)
}

// ConnectionFailedError is raised when a request never reaches the
// remote host at all (DNS failure, connection refused, timeout).
type ConnectionFailedError struct {
	URL    string
	Reason string
}

func (e *ConnectionFailedError) Error() string {
	return fmt.Sprintf("connection to %q failed: %s", e.URL, e.Reason)
}

// FileNotRegisteredError is raised when the archive has no record of the
// requested file ID.
type FileNotRegisteredError struct {
	FileID string
}

func (e *FileNotRegisteredError) Error() string {
	return fmt.Sprintf("file %q is not registered", e.FileID)
}

// NoS3AccessMethodError is raised when a DRS object's access methods do
// not include an S3 entry.
type NoS3AccessMethodError struct {
	FileID string
}

func (e *NoS3AccessMethodError) Error() string {
	return fmt.Sprintf("no S3 access method for file %q", e.FileID)
}

// EnvelopeNotFoundError is raised when the download service has no
// Crypt4GH envelope for the requested file.
type EnvelopeNotFoundError struct {
	FileID string
}

func (e *EnvelopeNotFoundError) Error() string {
	return fmt.Sprintf("no envelope available for file %q", e.FileID)
}

// GetEnvelopeError wraps a failure while retrieving a file's envelope.
type GetEnvelopeError struct {
	FileID string
	Err    error
}

func (e *GetEnvelopeError) Error() string {
	return fmt.Sprintf("failed to get envelope for file %q: %v", e.FileID, e.Err)
}

func (e *GetEnvelopeError) Unwrap() error { return e.Err }

// InvalidBoxError is raised when the work package's upload box is
// unknown to the upload service.
type InvalidBoxError struct {
	WorkPackageID string
}

func (e *InvalidBoxError) Error() string {
	return fmt.Sprintf("upload box for work package %q not found", e.WorkPackageID)
}

// InvalidFileUploadError is raised when a file upload referenced by ID
// is unknown to the upload service.
type InvalidFileUploadError struct {
	WorkPackageID string
	FileID        string
}

func (e *InvalidFileUploadError) Error() string {
	return fmt.Sprintf("file upload %q not found for work package %q", e.FileID, e.WorkPackageID)
}

// MaxPartNumberExceededError is raised when a multipart upload would
// require more parts than S3 allows.
type MaxPartNumberExceededError struct{}

func (e *MaxPartNumberExceededError) Error() string {
	return "maximum number of upload parts exceeded"
}

// MaxWaitTimeExceededError is raised when a staged-object poll loop runs
// past its configured wait-time budget.
type MaxWaitTimeExceededError struct {
	MaxWaitTime string
}

func (e *MaxWaitTimeExceededError) Error() string {
	return fmt.Sprintf("exceeded maximum wait time of %s while staging files", e.MaxWaitTime)
}

// EncryptedSizeMismatchError is raised when the ciphertext produced
// during encryption does not match the size predicted from the
// plaintext's length.
type EncryptedSizeMismatchError struct {
	ActualSize   int64
	ExpectedSize int64
}

func (e *EncryptedSizeMismatchError) Error() string {
	return fmt.Sprintf("encrypted file size %d does not match expected size %d", e.ActualSize, e.ExpectedSize)
}

// CreateFileUploadError is raised when the upload service refuses to
// register a new file upload.
type CreateFileUploadError struct {
	FileAlias string
	Reason    string
}

func (e *CreateFileUploadError) Error() string {
	return fmt.Sprintf("failed to create upload for file %q: %s", e.FileAlias, e.Reason)
}

// CompleteFileUploadError is raised when the upload service refuses to
// finalize a file upload.
type CompleteFileUploadError struct {
	FileAlias string
	Reason    string
}

func (e *CompleteFileUploadError) Error() string {
	return fmt.Sprintf("failed to complete upload for file %q: %s", e.FileAlias, e.Reason)
}

// DeleteFileUploadError is raised when the upload service refuses to
// delete a file upload.
type DeleteFileUploadError struct {
	FileAlias string
	FileID    string
}

func (e *DeleteFileUploadError) Error() string {
	return fmt.Sprintf("failed to delete upload %q for file %q", e.FileID, e.FileAlias)
}

// FinalizeUploadError wraps any failure in the final stage of an upload
// that does not fit a more specific taxonomy entry.
type FinalizeUploadError struct {
	FileAlias string
	Err       error
}

func (e *FinalizeUploadError) Error() string {
	return fmt.Sprintf("failed to finalize upload for file %q: %v", e.FileAlias, e.Err)
}

func (e *FinalizeUploadError) Unwrap() error { return e.Err }

// DownloadError wraps a failure in the download pipeline that does not
// fit a more specific taxonomy entry.
type DownloadError struct {
	Reason string
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download failed: %s", e.Reason)
}

// AbortBatchProcessError is raised when the user declines to proceed
// past files that the download service reported as missing (404).
type AbortBatchProcessError struct{}

func (e *AbortBatchProcessError) Error() string {
	return "batch process aborted by user"
}

// RaiseIfConnectionFailed converts a low-level transport error (DNS,
// connection refused, TLS handshake) into a ConnectionFailedError. Any
// other error is wrapped as UnexpectedError, preserving its cause.
func RaiseIfConnectionFailed(err error, url string) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &ConnectionFailedError{URL: url, Reason: netErr.Error()}
	}
	return &UnexpectedError{Context: fmt.Sprintf("connecting to %q", url), Err: err}
}
