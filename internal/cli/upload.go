package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ghga-de/ghga-connector/internal/config"
	"github.com/ghga-de/ghga-connector/internal/crypt4gh"
	"github.com/ghga-de/ghga-connector/internal/ghgaerrors"
	"github.com/ghga-de/ghga-connector/internal/httpclient"
	"github.com/ghga-de/ghga-connector/internal/logging"
	"github.com/ghga-de/ghga-connector/internal/uploadapi"
	"github.com/ghga-de/ghga-connector/internal/uploader"
	"github.com/ghga-de/ghga-connector/internal/wkvs"
	"github.com/ghga-de/ghga-connector/internal/workpackage"
)

// fileInfo is one parsed "alias,path" (or bare "path") upload argument.
type fileInfo struct {
	alias string
	path  string
}

// parseFileInfo splits "alias,path" into its parts, using the base name
// of path as the alias when none is given.
func parseFileInfo(raw string) fileInfo {
	if alias, path, found := strings.Cut(raw, ","); found {
		return fileInfo{alias: alias, path: path}
	}
	return fileInfo{alias: filepath.Base(raw), path: raw}
}

// uploadEnabled reports whether the UPLOAD_ENABLED environment variable
// enables the upload command, the same gate the reference CLI uses since
// uploads are normally performed by automated pipelines, not end users.
func uploadEnabled() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("UPLOAD_ENABLED"))) {
	case "1", "y", "yes", "on", "true", "t":
		return true
	}
	return false
}

func newUploadCmd(logger *logging.Logger, configPath *string) *cobra.Command {
	var (
		myPublicKey  string
		myPrivateKey string
		passphrase   string
	)

	cmd := &cobra.Command{
		Use:   "upload <file-info>...",
		Short: "Upload one or more files under an existing work package",
		Long: `Upload one or more files under an existing work package.

Each argument is a comma-separated file alias and path, e.g.
"my_file,./files/abc.bam". If only a path is given, the file's base name
is used as the alias: "./files/abc.bam" becomes alias "abc.bam".`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(cmd, *configPath, args, myPublicKey, myPrivateKey, passphrase, logger)
		},
	}

	cmd.Flags().StringVar(&myPublicKey, "my-public-key-path", "./key.pub", "path to the public key announced in the work package metadata")
	cmd.Flags().StringVar(&myPrivateKey, "my-private-key-path", "./key.sec", "path to the private key used to encrypt the Crypt4GH envelope")
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "passphrase for the encrypted private key, if any")

	return cmd
}

func runUpload(cmd *cobra.Command, configPath string, rawFileInfo []string, myPublicKeyPath, privateKeyPath, passphrase string, logger *logging.Logger) error {
	ctx := cmd.Context()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if _, err := os.Stat(myPublicKeyPath); err != nil {
		return &ghgaerrors.PubKeyFileDoesNotExistError{Path: myPublicKeyPath}
	}

	sender, err := loadKeyPair(privateKeyPath, passphrase)
	if err != nil {
		return err
	}

	files := make([]fileInfo, 0, len(rawFileInfo))
	for _, raw := range rawFileInfo {
		fi := parseFileInfo(raw)

		if _, err := os.Stat(fi.path); err != nil {
			return &ghgaerrors.FileDoesNotExistError{Path: fi.path}
		}

		encrypted, err := crypt4gh.IsFileEncrypted(fi.path)
		if err != nil {
			return fmt.Errorf("reading %q: %w", fi.path, err)
		}
		if encrypted {
			return &ghgaerrors.FileAlreadyEncryptedError{Path: fi.path}
		}

		files = append(files, fi)
	}

	httpClient, err := httpclient.New(cfg, logger)
	if err != nil {
		return err
	}

	wkvsClient := wkvs.New(httpClient, cfg.WkvsAPIURL)
	values, err := wkvsClient.Discover(ctx)
	if err != nil {
		return fmt.Errorf("discovering service endpoints: %w", err)
	}

	runtime := config.NewRuntimeConfig(values.WorkPackageAPIURL, values.UploadAPIURL, values.DownloadAPIURL, values.ArchivePublicKey[:])

	accessToken, err := workpackage.PromptForAccessToken(bufio.NewReader(os.Stdin), func(msg string) {
		fmt.Fprint(os.Stderr, msg)
	})
	if err != nil {
		return err
	}

	wpClient, err := workpackage.New(httpClient, runtime, sender, accessToken.PackageID, accessToken.SealedTokenB64)
	if err != nil {
		return err
	}

	boxID, err := wpClient.BoxID(ctx)
	if err != nil {
		return err
	}

	uploadAPI, err := uploadapi.New(httpClient, runtime, accessToken.PackageID)
	if err != nil {
		return err
	}

	up := uploader.New(uploadAPI, logger, cfg.MaxConcurrentDownloads)

	for _, fi := range files {
		if err := uploadOneFile(ctx, cmd, cfg, wpClient, uploadAPI, up, boxID, fi, sender, values.ArchivePublicKey, logger); err != nil {
			return err
		}
	}

	return nil
}

// uploadOneFile registers fi as a new upload in boxID, exchanges a
// create, upload and close work-order token in turn, and drives the
// multipart upload itself between the latter two.
func uploadOneFile(
	ctx context.Context,
	cmd *cobra.Command,
	cfg *config.Config,
	wpClient *workpackage.Client,
	uploadAPI *uploadapi.Client,
	up *uploader.Uploader,
	boxID string,
	fi fileInfo,
	sender *crypt4gh.KeyPair,
	archivePublicKey [32]byte,
	logger *logging.Logger,
) error {
	info, err := os.Stat(fi.path)
	if err != nil {
		return &ghgaerrors.FileDoesNotExistError{Path: fi.path}
	}

	createWOT, err := wpClient.UploadWorkOrderToken(ctx, workpackage.WorkTypeCreate, boxID, "", fi.alias, false)
	if err != nil {
		return err
	}

	fileID, err := uploadAPI.CreateFileUpload(ctx, boxID, fi.alias, info.Size(), createWOT)
	if err != nil {
		return err
	}

	uploadWOT, err := wpClient.UploadWorkOrderToken(ctx, workpackage.WorkTypeUpload, boxID, fileID, fi.alias, false)
	if err != nil {
		return err
	}

	reporter := progressReporterFor(cmd)
	result, err := up.Upload(ctx, fi.path, boxID, fileID, sender, archivePublicKey, int64(cfg.PartSize), uploadWOT, reporter)
	if err != nil {
		return err
	}

	closeWOT, err := wpClient.UploadWorkOrderToken(ctx, workpackage.WorkTypeClose, boxID, fileID, fi.alias, false)
	if err != nil {
		return err
	}

	if err := uploadAPI.CompleteFileUpload(ctx, boxID, fileID, result.PlaintextSHA256, result.EncryptedSHA256, closeWOT); err != nil {
		return err
	}

	logger.Infof("uploaded %s as %q (file %s)", fi.path, fi.alias, fileID)
	return nil
}
