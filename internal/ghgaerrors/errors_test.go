package ghgaerrors

import (
	"errors"
	"testing"
)

func TestErrorTypesImplementError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"NoFileAccessError", &NoFileAccessError{FileID: "f1"}, `not authorized to access file "f1"`},
		{"NoUploadAccessError", &NoUploadAccessError{UploadID: "u1"}, `not authorized to access upload "u1"`},
		{"OutputPathIsNotDirectory", &OutputPathIsNotDirectory{Path: "/tmp/x"}, `output path "/tmp/x" exists and is not a directory`},
		{"WellKnownValueNotFound", &WellKnownValueNotFound{Key: "wps_api_url"}, `well-known value "wps_api_url" not found`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUnwrappableErrorsExposeCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")

	tests := []struct {
		name string
		err  error
	}{
		{"UnexpectedError", &UnexpectedError{Context: "doing a thing", Err: cause}},
		{"S3StorageError", &S3StorageError{Operation: "PUT", Err: cause}},
		{"RenameDownloadedFileError", &RenameDownloadedFileError{From: "a", To: "b", Err: cause}},
		{"UploadFileError", &UploadFileError{FileID: "f1", PartNo: 2, Err: cause}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if !errors.Is(tt.err, cause) {
				t.Errorf("errors.Is(%T, cause) = false, want true", tt.err)
			}
		})
	}
}

func TestErrorsAsDistinguishesTypes(t *testing.T) {
	t.Parallel()

	var err error = &NoFileAccessError{FileID: "f1"}

	var fileAccess *NoFileAccessError
	if !errors.As(err, &fileAccess) {
		t.Fatal("expected errors.As to match NoFileAccessError")
	}
	if fileAccess.FileID != "f1" {
		t.Errorf("FileID = %q, want %q", fileAccess.FileID, "f1")
	}

	var uploadAccess *NoUploadAccessError
	if errors.As(err, &uploadAccess) {
		t.Error("expected errors.As not to match NoUploadAccessError for a NoFileAccessError")
	}
}

func TestRaiseIfConnectionFailed(t *testing.T) {
	t.Parallel()

	if err := RaiseIfConnectionFailed(nil, "https://example.org"); err != nil {
		t.Errorf("expected nil for a nil input error, got %v", err)
	}

	cause := errors.New("dial tcp: connection refused")
	err := RaiseIfConnectionFailed(cause, "https://example.org")
	if err == nil {
		t.Fatal("expected a non-nil error")
	}

	var unexpected *UnexpectedError
	if !errors.As(err, &unexpected) {
		t.Fatalf("expected an *UnexpectedError, got %T", err)
	}
	if !errors.Is(err, cause) {
		t.Error("expected the wrapped error to unwrap to the original cause")
	}
}
